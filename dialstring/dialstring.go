// Package dialstring classifies the strings a user can dial: public
// telephone numbers, team extensions and the voicemail short code.
package dialstring

import "regexp"

// Voicemail is the short code that reaches the caller's own voicemail box.
const Voicemail = "*97"

var (
	extensionPattern = regexp.MustCompile(`^[0-9]{2,5}$`)
	// Optional international prefix, 7 to 15 digits, then optional
	// ";"-separated DTMF groups.
	pstnPattern = regexp.MustCompile(`^\+?[0-9]{7,15}(;[0-9]+)*$`)
)

// Kind is the classification of a dialstring.
type Kind int

const (
	Invalid Kind = iota
	PSTN
	Extension
	VoicemailBox
)

func (k Kind) String() string {
	switch k {
	case PSTN:
		return "pstn"
	case Extension:
		return "extension"
	case VoicemailBox:
		return "voicemail"
	default:
		return "invalid"
	}
}

// Classify reports what s dials. Formatted numbers such as "(647) 242-2102"
// are Invalid; strip formatting before classifying.
func Classify(s string) Kind {
	switch {
	case IsVoicemail(s):
		return VoicemailBox
	case IsExtension(s):
		return Extension
	case IsPSTN(s):
		return PSTN
	default:
		return Invalid
	}
}

// IsDialstring reports whether s is a PSTN number, an extension or the
// voicemail code.
func IsDialstring(s string) bool {
	return Classify(s) != Invalid
}

// IsExtension reports whether s is a 2 to 5 digit team extension.
func IsExtension(s string) bool {
	return extensionPattern.MatchString(s)
}

// IsPSTN reports whether s is a public telephone number.
func IsPSTN(s string) bool {
	return pstnPattern.MatchString(s)
}

// IsVoicemail reports whether s is exactly the voicemail code.
func IsVoicemail(s string) bool {
	return s == Voicemail
}
