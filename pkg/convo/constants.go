package convo

// Directory and file name constants used throughout parley.
const (
	// ParleyDir is the user-level state directory (e.g., ~/.parley).
	ParleyDir = ".parley"

	// SpoolDirName is the inbound chat event spool directory under ParleyDir.
	SpoolDirName = "spool"

	// ConfigFileName is the daemon configuration file under ParleyDir.
	ConfigFileName = "parley.toml"

	// PolicyFileName is the scoring/lifecycle policy rubric under ParleyDir.
	PolicyFileName = "policy.yaml"
)
