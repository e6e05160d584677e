package chatbot

// 默认提示模板，占位符为 $var。
const (
	DefaultClassificationPrompt = `You are classifying messages sent to a customer support assistant.

Classify the message into exactly one of these types:
- question: the user is asking something the assistant should answer from its documents
- greetings_farewells: the user is greeting, thanking or saying goodbye
- unrelated: the message has nothing to do with the assistant's purpose
- promotion: the user is asking about current promotions or offers
- handoff_request: the user asks to talk to a human, an agent or a representative

Respond with a JSON object only, with the keys:
"classification_type": one of the types above,
"response": a short reply to send to the user when the type is greetings_farewells or unrelated, otherwise an empty string,
"language": the language the message is written in.

Message: $question`

	DefaultStandalonePrompt = `Given the conversation below and a follow-up question, rephrase the follow-up question into a standalone question that can be understood without the conversation.

Conversation:$chat_history

Follow-up question: $question

Respond with a JSON object only: {"question": "<standalone question>"}`

	DefaultQAPrompt = `Use the following context to answer the question. If the answer is not in the context, say that you do not know.

Context:
$context

Question: $question

Answer:`
)

// 人工转接默认提示。
const (
	DefaultHandoffRequestedPrompt = "The user has requested to speak to a human. As if you're talking to the user, please explain that you're sorry you couldn't help. Ask, 'Can we try again? Please tell me about your issue.' Don't acknowledge that you're speaking to the human; just speak to them. Do not include any tone markers. Just speak to the person naturally."

	DefaultHandoffJustTriggeredPrompt = "The user has requested to speak to a human. As if you're talking to the user, state that you are connecting them to a representative. Also state, 'In the meantime, you can keep talking to me. I'm here to help.' Don't acknowledge that you're speaking to the human; just speak to them. Do not include any tone markers. Just speak to the person naturally."

	DefaultHandoffCompletingPrompt = "The user has requested to speak to a human. As if you're talking to the user, state that you have already contacted someone who can help. Also state that they can keep talking to you in the meantime if they want. Don't acknowledge that you're speaking to the human. Do not include any tone markers. Just speak to the person naturally."
)

// DefaultHandoffDetails 摘要默认关注点。
var DefaultHandoffDetails = []string{
	"The main issue the user is trying to solve",
	"Questions the user asked",
	"Places where the user got stuck",
	"Instances where the user asked for help",
	"Instances where the user asked for a human",
	"Whether the user reported the issue as resolved",
}
