package provider

import (
	"errors"

	"github.com/vibast-solutions/ms-go-checkout/app/entity"
)

var ErrMethodNotSupported = errors.New("payment method is not supported")

// Stage is one title/description pair of the processing narration shown
// while a payment is in flight. Purely cosmetic: advanced on a fixed timer,
// independent of real provider state.
type Stage struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type MethodInfo struct {
	Method             entity.Method
	DisplayName        string
	Stages             []Stage
	PollBudget         int
	RecoveryPollBudget int
	Driver             Driver
}

type Registry struct {
	methods map[entity.Method]*MethodInfo
}

func NewRegistry(infos ...*MethodInfo) *Registry {
	items := make(map[entity.Method]*MethodInfo, len(infos))
	for _, info := range infos {
		items[info.Method] = info
	}
	return &Registry{methods: items}
}

func (r *Registry) Get(method entity.Method) (*MethodInfo, error) {
	info, ok := r.methods[method]
	if !ok {
		return nil, ErrMethodNotSupported
	}
	return info, nil
}

func (r *Registry) Stages(method entity.Method) []Stage {
	info, ok := r.methods[method]
	if !ok {
		return nil
	}
	return info.Stages
}

// Describe returns the static display metadata for a method. The stage text
// narrates the flow to the customer while polling runs behind it.
func Describe(method entity.Method) (string, []Stage) {
	switch method {
	case entity.MethodPushPayment:
		return "Mobile Money", []Stage{
			{Title: "Contacting your provider", Description: "We are sending a payment request to your phone."},
			{Title: "Check your phone", Description: "Enter your PIN on the payment prompt to authorize."},
			{Title: "Waiting for confirmation", Description: "Hold on while your provider confirms the payment."},
			{Title: "Almost done", Description: "Confirming your order with the store."},
		}
	case entity.MethodRedirectCapture:
		return "PayPal", []Stage{
			{Title: "Connecting to PayPal", Description: "Preparing your PayPal checkout."},
			{Title: "Waiting for approval", Description: "Approve the payment in the PayPal window."},
			{Title: "Completing your order", Description: "Confirming your payment with the store."},
		}
	case entity.MethodHostedRedirect:
		return "Card (Paystack)", []Stage{
			{Title: "Redirecting to secure checkout", Description: "You are being taken to our payment partner."},
			{Title: "Verifying your payment", Description: "Checking the payment status with our partner."},
			{Title: "Completing your order", Description: "Confirming your order with the store."},
		}
	default:
		return "", nil
	}
}
