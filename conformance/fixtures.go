package conformance

import "github.com/RegistryAccord/registryaccord-vcon-go/internal/model"

// Fixture is a document together with the outcome every registry must
// produce for it.
type Fixture struct {
	Name   string
	Doc    string
	Phase  string // first failing phase, empty when the document is valid
	Status int    // HTTP status of POST /v1/vcon
	Code   string // error code, empty when the document is valid
}

// Fixtures is the canonical conformance corpus.
var Fixtures = []Fixture{
	{
		Name: "minimal",
		Doc: `{"vcon":"0.0.2","uuid":"0190c5b4-7e4c-7c3e-9a8e-c0000000000a",
			"created_at":"2024-03-01T10:00:00Z","parties":[]}`,
		Status: 201,
	},
	{
		Name: "recorded call",
		Doc: `{"vcon":"0.0.2","uuid":"0190c5b4-7e4c-7c3e-9a8e-c0000000000b",
			"created_at":"2024-03-01T10:00:00.250+02:00","subject":"Order status",
			"parties":[{"tel":"+15551230001","role":"customer"},{"tel":"+15551230002","role":"agent"}],
			"dialog":[{"type":"recording","start":"2024-03-01T10:00:00Z","duration":42.5,"parties":[0,[1]],
				"mediatype":"audio/x-wav","url":"https://media.example.com/call.wav",
				"content_hash":"sha512-GLy6IPaIUM1GqzZqfIPZlWjaDsNgNvZM0iCONNThnH0"}],
			"analysis":[{"type":"transcript","dialog":[0],"vendor":"acme","encoding":"none","body":"Hello."}]}`,
		Status: 201,
	},
	{
		Name: "transfer",
		Doc: `{"uuid":"0190c5b4-7e4c-7c3e-9a8e-c0000000000c","created_at":"2024-03-01T10:00:00Z",
			"parties":[{"name":"A"},{"name":"B"},{"name":"C"}],
			"dialog":[
				{"type":"text","start":"2024-03-01T10:00:00Z","parties":[0,1],"body":"hi","encoding":"none"},
				{"type":"text","start":"2024-03-01T10:01:00Z","parties":[0,2],"body":"hi","encoding":"none"},
				{"type":"transfer","start":"2024-03-01T10:02:00Z","parties":[0,1,2],
				 "transferee":0,"transferor":1,"transfer_target":2,"original":0,"target_dialog":1}]}`,
		Status: 201,
	},
	{
		Name: "incomplete with disposition",
		Doc: `{"uuid":"0190c5b4-7e4c-7c3e-9a8e-c0000000000d","created_at":"2024-03-01T10:00:00Z",
			"parties":[{"tel":"+15551230001"}],
			"dialog":[{"type":"incomplete","start":"2024-03-01T10:00:00Z","parties":0,"disposition":"no-answer"}]}`,
		Status: 201,
	},
	{
		Name:   "parties not a list",
		Doc:    `{"uuid":"0190c5b4-7e4c-7c3e-9a8e-c0000000000e","created_at":"2024-03-01T10:00:00Z","parties":{"tel":"1"}}`,
		Phase:  model.PhaseSchema,
		Status: 400,
		Code:   "VCON_SCHEMA_REJECT",
	},
	{
		Name: "incomplete without disposition",
		Doc: `{"uuid":"0190c5b4-7e4c-7c3e-9a8e-c0000000000f","created_at":"2024-03-01T10:00:00Z",
			"parties":[{"tel":"+15551230001"}],
			"dialog":[{"type":"incomplete","start":"2024-03-01T10:00:00Z","parties":0}]}`,
		Phase:  model.PhaseStructure,
		Status: 400,
		Code:   "VCON_STRUCTURE",
	},
	{
		Name: "scalar json analysis body",
		Doc: `{"uuid":"0190c5b4-7e4c-7c3e-9a8e-c00000000010","created_at":"2024-03-01T10:00:00Z","parties":[],
			"analysis":[{"type":"summary","vendor":"acme","encoding":"json","body":"flat"}]}`,
		Phase:  model.PhaseStructure,
		Status: 400,
		Code:   "VCON_STRUCTURE",
	},
	{
		Name: "exclusive links",
		Doc: `{"uuid":"0190c5b4-7e4c-7c3e-9a8e-c00000000011","created_at":"2024-03-01T10:00:00Z","parties":[],
			"redacted":{"uuid":"0190c5b4-7e4c-7c3e-9a8e-c000000000aa"},"group":[{"uuid":"0190c5b4-7e4c-7c3e-9a8e-c000000000bb"}]}`,
		Phase:  model.PhaseStructure,
		Status: 400,
		Code:   "VCON_STRUCTURE",
	},
	{
		Name: "dialog references missing party",
		Doc: `{"uuid":"0190c5b4-7e4c-7c3e-9a8e-c00000000012","created_at":"2024-03-01T10:00:00Z",
			"parties":[{"name":"A"}],
			"dialog":[{"type":"text","start":"2024-03-01T10:00:00Z","parties":999,"body":"hi","encoding":"none"}]}`,
		Phase:  model.PhaseReference,
		Status: 422,
		Code:   "VCON_REFERENCE",
	},
	{
		Name: "analysis references missing dialog",
		Doc: `{"uuid":"0190c5b4-7e4c-7c3e-9a8e-c00000000013","created_at":"2024-03-01T10:00:00Z","parties":[],
			"analysis":[{"type":"summary","dialog":3,"vendor":"acme","encoding":"none","body":"x"}]}`,
		Phase:  model.PhaseReference,
		Status: 422,
		Code:   "VCON_REFERENCE",
	},
}
