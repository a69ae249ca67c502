package models

// Presence is the state of an account as seen by other users.
type Presence int

const (
	PresenceOffline Presence = iota
	PresenceOnline
	PresenceBusy
)

// Wire codes for presence values.
const (
	CodeOnline  = "+"
	CodeBusy    = "-"
	CodeOffline = "0"
)

// Code returns the single-character wire code for p.
func (p Presence) Code() string {
	switch p {
	case PresenceOnline:
		return CodeOnline
	case PresenceBusy:
		return CodeBusy
	default:
		return CodeOffline
	}
}

func (p Presence) String() string {
	switch p {
	case PresenceOnline:
		return "online"
	case PresenceBusy:
		return "busy"
	default:
		return "offline"
	}
}

// PresenceFromCode maps a wire code back to a presence value. Only "+" and
// "-" are accepted: offline is reached through logoff and disconnect paths,
// never through a status update.
func PresenceFromCode(code string) (Presence, bool) {
	switch code {
	case CodeOnline:
		return PresenceOnline, true
	case CodeBusy:
		return PresenceBusy, true
	}
	return PresenceOffline, false
}

// Account is one registered identity. Username and CredentialHash never
// change after creation; only Presence is mutated, through the registry.
type Account struct {
	Username       string
	CredentialHash string
	Presence       Presence
}

// UserStatus is one roster entry: a username with its presence code.
type UserStatus struct {
	Username string
	Code     string
}
