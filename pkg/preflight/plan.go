package preflight

type Plan struct {
	// SourceAccessible requires the source to exist as a directory.
	SourceAccessible bool
	// SourceCreatable only requires the source's parent to exist, for runs
	// that generate their own data.
	SourceCreatable bool
	// SourceNotRoot rejects filesystem and volume roots as source.
	SourceNotRoot bool
	// LocalTargetDistinct rejects a local-only run whose target is the
	// source or nested with it.
	LocalTargetDistinct bool
	// ToolAvailable requires the transfer tool binary to be resolvable.
	ToolAvailable bool

	DryRun bool
}
