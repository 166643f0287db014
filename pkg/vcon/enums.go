package vcon

// Version is the vCon format version tag.
type Version string

// VersionCurrent is the only version this package reads and writes.
const VersionCurrent Version = "0.0.2"

// Valid reports whether v is a supported version tag.
func (v Version) Valid() bool { return v == VersionCurrent }

// Encoding names how inline content is encoded.
type Encoding string

const (
	EncodingBase64URL Encoding = "base64url"
	EncodingJSON      Encoding = "json"
	EncodingNone      Encoding = "none"
)

// Valid reports whether e is a known encoding.
func (e Encoding) Valid() bool {
	switch e {
	case EncodingBase64URL, EncodingJSON, EncodingNone:
		return true
	}
	return false
}

// DialogType classifies a dialog segment.
type DialogType string

const (
	DialogRecording  DialogType = "recording"
	DialogText       DialogType = "text"
	DialogTransfer   DialogType = "transfer"
	DialogIncomplete DialogType = "incomplete"
)

// Valid reports whether t is a known dialog type.
func (t DialogType) Valid() bool {
	switch t {
	case DialogRecording, DialogText, DialogTransfer, DialogIncomplete:
		return true
	}
	return false
}

// Disposition is the reason code for an incomplete dialog.
type Disposition string

const (
	DispositionNoAnswer           Disposition = "no-answer"
	DispositionCongestion         Disposition = "congestion"
	DispositionFailed             Disposition = "failed"
	DispositionBusy               Disposition = "busy"
	DispositionHungUp             Disposition = "hung-up"
	DispositionVoicemailNoMessage Disposition = "voicemail-no-message"
)

// Valid reports whether d is a known disposition.
func (d Disposition) Valid() bool {
	switch d {
	case DispositionNoAnswer, DispositionCongestion, DispositionFailed,
		DispositionBusy, DispositionHungUp, DispositionVoicemailNoMessage:
		return true
	}
	return false
}

// PartyEvent is a participation change recorded in a dialog's party history.
type PartyEvent string

const (
	PartyJoin   PartyEvent = "join"
	PartyDrop   PartyEvent = "drop"
	PartyHold   PartyEvent = "hold"
	PartyUnhold PartyEvent = "unhold"
	PartyMute   PartyEvent = "mute"
	PartyUnmute PartyEvent = "unmute"
)

// Valid reports whether e is a known party event.
func (e PartyEvent) Valid() bool {
	switch e {
	case PartyJoin, PartyDrop, PartyHold, PartyUnhold, PartyMute, PartyUnmute:
		return true
	}
	return false
}
