package workflow

import "github.com/ashureev/cvstudio/internal/domain"

// Tool names offered to the model.
const (
	ToolCreateSession    = "create_session_from_document"
	ToolGetSession       = "get_session"
	ToolUpdateFields     = "update_fields"
	ToolGenerateDocument = "generate_document"
	ToolFetchReference   = "fetch_reference_text"
)

// Flags is the per-request state the capability set depends on.
type Flags struct {
	SessionExists     bool
	UploadPresent     bool
	GenerateAttempted bool
}

// Capabilities returns the tool names the model may call in this iteration.
func Capabilities(stage domain.Stage, ready Readiness, f Flags) []string {
	var tools []string
	if !f.SessionExists {
		if f.UploadPresent {
			tools = append(tools, ToolCreateSession)
		}
		return tools
	}
	tools = append(tools, ToolGetSession, ToolUpdateFields, ToolFetchReference)
	if ready.CanGenerate && stage.GenerationEligible() && !f.GenerateAttempted {
		tools = append(tools, ToolGenerateDocument)
	}
	return tools
}

// Offered reports whether name is in tools.
func Offered(tools []string, name string) bool {
	for _, t := range tools {
		if t == name {
			return true
		}
	}
	return false
}
