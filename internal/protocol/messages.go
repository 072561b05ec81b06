package protocol

// Payload of [CmdBuild].
type BuildRequest struct {
	Pipeline string `json:"pipeline,omitempty"` // Pipeline YAML. Empty selects the defaults.
	Output   string `json:"output"`             // Directory receiving the image archive.
	Tag      string `json:"tag,omitempty"`      // Image name to import the result under.
}

// Payload of a successful [CmdBuild] response.
type BuildResult struct {
	Archive   string `json:"archive"`
	Tag       string `json:"tag,omitempty"`
	Platform  string `json:"platform"`
	Toolchain string `json:"toolchain"`
	Branch    string `json:"branch"` // Toolchain resolution branch.
	Phase     string `json:"phase"`
	Duration  string `json:"duration"`
}

// Payload of a successful [CmdStatus] response.
type StatusResult struct {
	Running     bool   `json:"running"`
	Version     string `json:"version"`
	Pid         int    `json:"pid"`
	Uptime      string `json:"uptime"`
	Building    bool   `json:"building"`     // A build is in progress.
	Builds      int    `json:"builds"`       // Completed builds.
	Failures    int    `json:"failures"`     // Failed builds.
	LastOutcome string `json:"last_outcome"` // "success", "failure" or empty before the first build.
}

// Payload of a [CmdError] response.
type ErrorResult struct {
	Message  string `json:"message"`
	Phase    string `json:"phase,omitempty"`    // Last phase reached by a failed build.
	Sequence string `json:"sequence,omitempty"` // Sequence of the failing step.
	Step     string `json:"step,omitempty"`     // Failing step.
	ExitCode int    `json:"exit_code,omitempty"`
}

func (e *ErrorResult) Error() string {
	return e.Message
}
