package models

// Identity describes the caller of one inbound command. It is supplied by the
// platform adapter and immutable for the duration of one command evaluation.
type Identity struct {
	UserID  string
	GuildID string // empty in direct-message context
	Tier    Tier
}

// InGuild reports whether the command was issued inside a guild context.
func (i Identity) InGuild() bool {
	return i.GuildID != ""
}
