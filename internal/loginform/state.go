package loginform

// State is the phase of the login form.
type State int

const (
	// SignedOut: sign-in form shown, no captcha widget attached or its
	// response was reset.
	SignedOut State = iota
	// AwaitingCaptcha: sign-in form shown with a rendered captcha widget.
	AwaitingCaptcha
	// SendingCode: sign-in request in flight.
	SendingCode
	// AwaitingCode: confirmation handle held, verification form shown.
	AwaitingCode
	// VerifyingCode: code confirmation in flight.
	VerifyingCode
	// SignedIn: the provider reports a user.
	SignedIn
)

var stateNames = map[State]string{
	SignedOut:       "signed_out",
	AwaitingCaptcha: "awaiting_captcha",
	SendingCode:     "sending_code",
	AwaitingCode:    "awaiting_code",
	VerifyingCode:   "verifying_code",
	SignedIn:        "signed_in",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

// transitions lists the legal moves. Edges into SignedIn from states other
// than VerifyingCode come from the provider's auth-state stream.
var transitions = map[State][]State{
	SignedOut:       {AwaitingCaptcha, SendingCode, SignedIn},
	AwaitingCaptcha: {SignedOut, SendingCode, SignedIn},
	SendingCode:     {AwaitingCode, SignedOut, SignedIn},
	AwaitingCode:    {VerifyingCode, SignedOut, SignedIn},
	VerifyingCode:   {SignedIn, AwaitingCode, SignedOut},
	SignedIn:        {SignedOut},
}

// CanTransition reports whether from → to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// signingIn and verifyingCode are the in-flight flags of the form.
func (s State) signingIn() bool     { return s == SendingCode }
func (s State) verifyingCode() bool { return s == VerifyingCode }

// collectingPhone reports whether the sign-in form accepts a submission.
func (s State) collectingPhone() bool { return s == SignedOut || s == AwaitingCaptcha }
