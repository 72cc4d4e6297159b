package gate

// Category classifies a command for audit purposes. Admin and security
// commands always leave a command_execution event behind.
type Category string

const (
	CategoryGeneral    Category = "general"
	CategoryHosting    Category = "hosting"
	CategoryBilling    Category = "billing"
	CategoryAutomation Category = "automation"
	CategoryAdmin      Category = "admin"
	CategorySecurity   Category = "security"
)

// Sensitive reports whether executions of this category are audited.
func (c Category) Sensitive() bool {
	return c == CategoryAdmin || c == CategorySecurity
}

// Command is the normalized declaration the platform adapter hands to the
// gate for every inbound interaction.
type Command struct {
	Name        string
	Category    Category
	AdminOnly   bool
	PremiumOnly bool
	// Critical marks destructive operations that consume the tight hourly
	// budget on top of the per-command scopes.
	Critical bool
}

// Request is one command invocation to admit.
type Request struct {
	Command Command
	UserID  string
	// GuildID is empty for direct messages.
	GuildID string
	// Token is an optional signed operation token presented by the caller.
	Token string
}

// IsDM reports whether the invocation arrived outside any guild.
func (r Request) IsDM() bool {
	return r.GuildID == ""
}
