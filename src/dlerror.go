package malamute

// DlError is a protocol error indication from the data-link state
// machine, named A through V as in the AX.25 2.2 specification. They are
// side-band information: the ones that matter for control flow (G, H, J,
// O, E, F) come with their own state transitions.
type DlError byte

const (
	DlErrorA DlError = iota
	DlErrorB
	DlErrorC
	DlErrorD
	DlErrorE
	DlErrorF
	DlErrorG
	DlErrorH
	DlErrorI
	DlErrorJ
	DlErrorK
	DlErrorL
	DlErrorM
	DlErrorN
	DlErrorO
	DlErrorP
	DlErrorQ
	DlErrorR
	DlErrorS
	DlErrorT
	DlErrorU
	DlErrorV
)

func (e DlError) String() string {
	return string(rune('A' + e))
}

// Description gives the specification's wording for the error.
func (e DlError) Description() string {
	switch e {
	case DlErrorA:
		return "F=1 received but P=1 not outstanding"
	case DlErrorB:
		return "unexpected DM with F=1 in connected states"
	case DlErrorC:
		return "unexpected UA in connected states"
	case DlErrorD:
		return "UA received without F=1 when SABM or DISC was sent P=1"
	case DlErrorE:
		return "DM received in connected states"
	case DlErrorF:
		return "data link reset: SABM received while connected"
	case DlErrorG:
		return "connection attempt timed out"
	case DlErrorH:
		return "disconnect attempt timed out"
	case DlErrorI:
		return "N2 timeouts: unacknowledged data"
	case DlErrorJ:
		return "N(R) sequence error"
	case DlErrorK:
		return "frame with content error"
	case DlErrorL:
		return "control field invalid or not implemented"
	case DlErrorM:
		return "information field in a frame type that takes none"
	case DlErrorN:
		return "length of frame incorrect for frame type"
	case DlErrorO:
		return "I frame exceeded maximum allowed length"
	case DlErrorP:
		return "N(S) out of the window"
	case DlErrorQ:
		return "UI response received, or UI command with P=1 received"
	case DlErrorR:
		return "UI frame exceeded maximum allowed length"
	case DlErrorS:
		return "I response received"
	case DlErrorT:
		return "N2 timeouts: no response to enquiry"
	case DlErrorU:
		return "N2 timeouts: extended peer busy condition"
	case DlErrorV:
		return "no data link machines available to establish connection"
	}
	return "unknown"
}
