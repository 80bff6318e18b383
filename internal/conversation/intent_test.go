package conversation

import "testing"

func TestDetectIntent(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"Hola", IntentUnknown},
		{"???", IntentUnknown},
		{"", IntentUnknown},
		{"Busco una villa en Andratx", IntentQualifying},
		{"Mi presupuesto es de 800 mil", IntentQualifying},
		{"tengo unos 750k para invertir", IntentQualifying},
		{"Quiero un ático en Palma", IntentQualifying},
		{"Me gustaría agendar una visita", IntentAppointment},
		{"podemos reservar hora para verla?", IntentAppointment},
		{"La compro por 1.500.000 €", IntentSale},
		{"la compro por 2 millones", IntentSale},
		{"lo compro", IntentUnknown}, // purchase talk without an amount is not a sale signal
		{"Quiero hablar con un agente", IntentHandoff},
		{"pásame con una persona real", IntentHandoff},
		{"STOP", IntentOptOut},
		{"quiero darme de baja", IntentOptOut},
		// Opt-out outranks interest in the same message.
		{"me interesa la villa pero no quiero mensajes", IntentOptOut},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			if got := DetectIntent(tt.text); got != tt.want {
				t.Errorf("DetectIntent(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestExtractAmount(t *testing.T) {
	tests := []struct {
		text string
		want float64
	}{
		{"1.500.000 €", 1_500_000},
		{"800 mil", 800_000},
		{"750k", 750_000},
		{"2 m", 2_000_000},
		{"la compro por 2 millones", 2_000_000},
		{"1 millón", 1_000_000},
		{"el salon mide 80 metros", 80}, // "m" must stand alone to mean millions
		{"sin cifras", 0},
	}
	for _, tt := range tests {
		if got := ExtractAmount(tt.text); got != tt.want {
			t.Errorf("ExtractAmount(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
