// Package main is the entry point of the chatbot service.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/cmd/chatbot/app"
)

func main() {
	app.NewApp().Run()
}
