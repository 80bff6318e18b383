package conversation

import (
	"regexp"
	"strconv"
	"strings"
)

// Intent is what an inbound message signals about the contact's goal.
type Intent int

const (
	IntentUnknown Intent = iota
	// IntentQualifying covers budget mentions and concrete property
	// interest, the criteria that turn a lead into a qualified lead.
	IntentQualifying
	// IntentAppointment is an explicit request to visit or book.
	IntentAppointment
	// IntentSale is a purchase commitment carrying an amount.
	IntentSale
	// IntentHandoff is an explicit request for a human agent.
	IntentHandoff
	// IntentOptOut is an explicit request to stop automated messages.
	IntentOptOut
)

func (i Intent) String() string {
	switch i {
	case IntentQualifying:
		return "qualifying"
	case IntentAppointment:
		return "appointment"
	case IntentSale:
		return "sale"
	case IntentHandoff:
		return "handoff"
	case IntentOptOut:
		return "opt_out"
	default:
		return "unknown"
	}
}

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
)

var (
	optOutPhrases  = []string{"stop", "baja", "no me escribas", "no quiero mensajes", "unsubscribe", "darme de baja"}
	handoffPhrases = []string{"agente", "humano", "persona real", "hablar con alguien", "asesor"}
	bookingPhrases = []string{"cita", "visita", "visitar", "agendar", "reservar hora", "ver la propiedad", "verla"}
	salePhrases    = []string{"lo compro", "la compro", "comprar ya", "reservo", "senal", "arras", "cerrar la compra"}
	buyingPhrases  = []string{
		"presupuesto", "comprar", "compra", "invertir", "inversion",
		"villa", "apartamento", "atico", "finca", "chalet", "piso",
		"andratx", "deia", "soller", "palma", "pollensa", "calvia",
	}

	// Word suffixes carry a trailing \b so a bare "m" never claims the
	// start of "metros" or "millones".
	amountRe = regexp.MustCompile(`([0-9][0-9.,]*)\s*(millones\b|millon\b|mil\b|k\b|m\b|euros\b|eur\b|€)?`)
)

// DetectIntent classifies a message text. Opt-out and handoff take
// precedence over everything else so an explicit "stop" inside a longer
// sentence is never mistaken for interest.
func DetectIntent(text string) Intent {
	msg := accentFolder.Replace(strings.ToLower(strings.TrimSpace(text)))
	if msg == "" {
		return IntentUnknown
	}

	if matchesAny(msg, optOutPhrases) {
		return IntentOptOut
	}
	if matchesAny(msg, handoffPhrases) {
		return IntentHandoff
	}
	if matchesAny(msg, salePhrases) && ExtractAmount(text) > 0 {
		return IntentSale
	}
	if matchesAny(msg, bookingPhrases) {
		return IntentAppointment
	}
	if matchesAny(msg, buyingPhrases) || mentionsBudget(msg) {
		return IntentQualifying
	}
	return IntentUnknown
}

// ExtractAmount pulls a euro amount out of free text, honoring "mil"/"k"
// thousands and "m"/"millon"/"millones" millions suffixes. Returns 0 when
// no amount is present.
func ExtractAmount(text string) float64 {
	msg := accentFolder.Replace(strings.ToLower(text))
	best := 0.0
	for _, m := range amountRe.FindAllStringSubmatch(msg, -1) {
		raw := strings.ReplaceAll(strings.ReplaceAll(m[1], ".", ""), ",", "")
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		switch m[2] {
		case "mil", "k":
			v *= 1_000
		case "m", "millon", "millones":
			v *= 1_000_000
		}
		if v > best {
			best = v
		}
	}
	return best
}

func mentionsBudget(msg string) bool {
	for _, m := range amountRe.FindAllStringSubmatch(msg, -1) {
		if m[2] != "" {
			return true
		}
	}
	return false
}

func matchesAny(msg string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
