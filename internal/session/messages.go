// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatelock Contributors

package session

// Messages holds the user-facing strings of the authentication flow.
// Placeholders are fmt verbs: %d for counts and seconds.
type Messages struct {
	LoginPrompt           string // %d attempts remaining
	LoginWrongPassword    string // %d attempts remaining
	LoginSuccessful       string
	KickWrongPassword     string
	KickTimedOut          string
	KickBruteforce        string
	KickInvalidNickname   string
	KickReconnectPremium  string
	KickSessionExists     string
	RegisterPrompt        string
	RegisterConfirmHint   string
	RegisterDifferent     string
	RegisterTooShort      string
	RegisterTooLong       string
	RegisterUnsafe        string
	RegisterDisabled      string
	RegisterIPLimit       string
	RegisterSuccessful    string
	RegisterNicknameTaken string
	TOTPPrompt            string
	CrackedCommand        string
	Countdown             string // %d seconds remaining
	ErrorOccurred         string
}

// DefaultMessages returns the built-in message set.
func DefaultMessages() Messages {
	return Messages{
		LoginPrompt:           "Please log in with /login <password>. Attempts remaining: %d",
		LoginWrongPassword:    "Wrong password. Attempts remaining: %d",
		LoginSuccessful:       "You have successfully logged in.",
		KickWrongPassword:     "Too many wrong passwords.",
		KickTimedOut:          "Authentication timed out.",
		KickBruteforce:        "Too many failed attempts from your address. Try again later.",
		KickInvalidNickname:   "Your nickname contains forbidden characters.",
		KickReconnectPremium:  "Your account is premium. Please reconnect.",
		KickSessionExists:     "You are already authenticating from another connection.",
		RegisterPrompt:        "Please register with /register <password>.",
		RegisterConfirmHint:   "Repeat the password to confirm: /register <password> <password>.",
		RegisterDifferent:     "The passwords do not match.",
		RegisterTooShort:      "That password is too short.",
		RegisterTooLong:       "That password is too long.",
		RegisterUnsafe:        "That password is too common. Pick another one.",
		RegisterDisabled:      "Registrations are currently disabled.",
		RegisterIPLimit:       "Too many accounts were registered from your address.",
		RegisterSuccessful:    "You have successfully registered.",
		RegisterNicknameTaken: "This nickname is already registered.",
		TOTPPrompt:            "Please enter your 2FA code: /2fa <code>",
		CrackedCommand:        "This account does not use password login.",
		Countdown:             "You have %d seconds left to authenticate.",
		ErrorOccurred:         "An internal error occurred. Please try again.",
	}
}
