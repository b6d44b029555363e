package tools

import (
	"encoding/json"

	"github.com/ashureev/cvstudio/internal/agent"
	"github.com/ashureev/cvstudio/internal/workflow"
)

var toolSpecs = map[string]agent.ToolSpec{
	workflow.ToolCreateSession: {
		Name:        workflow.ToolCreateSession,
		Description: "Create a new CV session from the document the user uploaded with this message.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	},
	workflow.ToolGetSession: {
		Name:        workflow.ToolGetSession,
		Description: "Read the current CV session: stage, readiness and all CV sections.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	},
	workflow.ToolUpdateFields: {
		Name: workflow.ToolUpdateFields,
		Description: "Edit CV fields. Paths look like contact.email, summary, skills, education[0].degree, " +
			"work_experience[1].bullets or work_experience[+] to append. Locked work entries cannot be edited.",
		Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "updates": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "path": {"type": "string", "description": "Field path to set."},
          "value_json": {"type": "string", "description": "New value encoded as JSON."}
        },
        "required": ["path", "value_json"]
      }
    }
  },
  "required": ["updates"]
}`),
	},
	workflow.ToolGenerateDocument: {
		Name:        workflow.ToolGenerateDocument,
		Description: "Render the final CV document. Only call this when the user asked for the document.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{}}`),
	},
	workflow.ToolFetchReference: {
		Name:        workflow.ToolFetchReference,
		Description: "Store the job posting the CV should be tailored to, from a URL or pasted text.",
		Parameters: json.RawMessage(`{
  "type": "object",
  "properties": {
    "url": {"type": "string", "description": "Posting URL."},
    "text": {"type": "string", "description": "Posting text pasted by the user."}
  }
}`),
	},
}
