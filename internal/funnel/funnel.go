// Package funnel implements the lead-capture conversation state machine and
// the pure helpers it relies on.
package funnel

import (
	"fmt"
	"strings"

	"github.com/capitalize-ai/messenger-pipeline/internal/model"
)

// Outcome is the result of feeding one customer message to the funnel.
type Outcome struct {
	From model.Step
	To   model.Step
	// Reply is the scripted answer. Empty when NeedsAI or Completed is set.
	Reply string
	// NeedsAI is set when the message did not answer the current prompt.
	NeedsAI bool
	// Completed is set on the CONTACT to DONE transition.
	Completed bool
}

// Advanced reports whether the step changed.
func (o Outcome) Advanced() bool {
	return o.From != o.To
}

var questionWords = map[string]struct{}{
	"كام": {}, "بكام": {}, "ايه": {}, "هل": {}, "ازاي": {}, "فين": {},
	"امتي": {}, "ليه": {}, "مين": {}, "متاح": {}, "فيه": {},
	"how": {}, "what": {}, "when": {}, "where": {}, "why": {}, "price": {},
}

var greetingWords = map[string]struct{}{
	"سلام": {}, "اهلا": {}, "مرحبا": {}, "هلا": {}, "هاي": {}, "ازيك": {},
	"صباح": {}, "مساء": {}, "hi": {}, "hello": {}, "hey": {},
}

// IsGreeting reports whether text opens with a salutation rather than an order.
func IsGreeting(text string) bool {
	w := words(text)
	if len(w) == 0 {
		return false
	}
	_, ok := greetingWords[w[0]]
	return ok
}

// IsQuestion reports whether text reads as a question rather than an answer.
func IsQuestion(text string) bool {
	if strings.ContainsAny(text, "?؟") {
		return true
	}
	w := words(text)
	if len(w) == 0 {
		return false
	}
	_, ok := questionWords[w[0]]
	return ok
}

// Advance applies text to sess and returns what happened. Order fields found
// anywhere in the text are captured on every turn.
func Advance(sess *model.Session, text string, fields OrderFields, tenantName string) Outcome {
	text = strings.TrimSpace(text)
	from := sess.CurrentStep()
	out := Outcome{From: from, To: from}

	captureOptional(sess, fields)

	switch from {
	case model.StepStart:
		sess.SetIntent(model.IntentOrder)
		switch {
		case text == "" || IsGreeting(text):
			sess.SetStep(model.StepService)
			out.To = model.StepService
			out.Reply = ServicePrompt(tenantName)
		case IsQuestion(text):
			sess.SetStep(model.StepService)
			out.To = model.StepService
			out.NeedsAI = true
		default:
			// the opening message already names what they want
			sess.Capture(model.FieldService, text)
			sess.SetStep(model.StepName)
			out.To = model.StepName
			out.Reply = welcome(tenantName) + " " + NamePrompt()
		}

	case model.StepService:
		if IsQuestion(text) {
			out.NeedsAI = true
			break
		}
		sess.Capture(model.FieldService, text)
		sess.SetStep(model.StepName)
		out.To = model.StepName
		out.Reply = NamePrompt()

	case model.StepName:
		switch {
		case IsQuestion(text):
			out.NeedsAI = true
		case fields.Contact() != nil:
			// contact details before a name: ask for the name again
			out.Reply = NamePrompt()
		default:
			sess.Capture(model.FieldName, text)
			sess.SetStep(model.StepContact)
			out.To = model.StepContact
			out.Reply = ContactPrompt(text)
		}

	case model.StepContact:
		contact := fields.Contact()
		if contact == nil {
			out.NeedsAI = true
			break
		}
		sess.Capture(model.FieldContact, *contact)
		if fields.City != nil {
			if addr := residualAddress(text); addr != "" {
				sess.Capture(model.FieldAddress, addr)
			}
		}
		sess.SetStep(model.StepDone)
		out.To = model.StepDone
		out.Completed = true

	default:
		out.NeedsAI = true
	}

	return out
}

func captureOptional(sess *model.Session, fields OrderFields) {
	if fields.Size != nil {
		sess.Capture(model.FieldSize, *fields.Size)
	}
	if fields.Color != nil {
		sess.Capture(model.FieldColor, *fields.Color)
	}
	if fields.City != nil {
		sess.Capture(model.FieldCity, *fields.City)
	}
}

// residualAddress returns what is left of a contact message once the phone
// and email are removed, when it is long enough to be an address.
func residualAddress(text string) string {
	text = NormalizeDigits(text)
	text = emailRe.ReplaceAllString(text, " ")
	if m := phoneRe.FindStringSubmatch(text); m != nil {
		text = strings.Replace(text, m[1], " ", 1)
	}
	rest := strings.Join(strings.Fields(strings.Trim(text, " ,،-")), " ")
	if len(strings.Fields(rest)) < 3 {
		return ""
	}
	return rest
}

func welcome(tenantName string) string {
	if tenantName == "" {
		return "أهلاً بيك! 👋"
	}
	return fmt.Sprintf("أهلاً بيك في %s! 👋", tenantName)
}

// ServicePrompt greets the customer and asks what they want to order.
func ServicePrompt(tenantName string) string {
	return welcome(tenantName) + " تحب تطلب إيه النهارده؟ اكتبلنا المنتج أو الخدمة."
}

// NamePrompt asks for the customer's name.
func NamePrompt() string {
	return "تمام ✅ ممكن اسم حضرتك؟"
}

// ContactPrompt asks for a phone number or email.
func ContactPrompt(name string) string {
	return fmt.Sprintf("تشرفنا يا %s! ابعتلنا رقم الموبايل أو الإيميل عشان نأكد الطلب.", name)
}

// ConfirmationFooter follows the order sheet.
const ConfirmationFooter = "هنتواصل معاك قريب لتأكيد الطلب 🙏"

// Apology is sent when the AI fallback is unavailable.
const Apology = "عذراً، حصلت مشكلة مؤقتة. ممكن تعيد رسالتك بعد شوية؟"
