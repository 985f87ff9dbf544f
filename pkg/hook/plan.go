package hook

type Plan struct {
	Enabled bool

	PreRunCommands  []string
	PostRunCommands []string

	DryRun   bool
	FailFast bool
}
