package biz

import (
	"github.com/kart-io/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/model"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/chatbot"
)

// CostOf 按模型单价累计用量。未知模型按零计费。
func CostOf(opts *chatbot.Options, usages []Usage) model.CostTotals {
	var totals model.CostTotals
	for _, u := range usages {
		totals.InputTokens += int64(u.InputTokens)
		totals.OutputTokens += int64(u.OutputTokens)

		price, ok := opts.Cost(u.ModelID)
		if !ok {
			logger.Warnw("no cost configured for model", "model_id", u.ModelID)
			continue
		}
		totals.Cost += float64(u.InputTokens)*price.InputCost + float64(u.OutputTokens)*price.OutputCost
	}
	return totals
}
