package template

import "github.com/anclora/whatsapp-pipeline/internal/event"

// Template keys used by the conversation engine.
const (
	KeyGreeting      = "greeting"
	KeyClarify       = "clarify"
	KeyQualifiedFlow = "qualified_flow"
	KeyAppointment   = "appointment_confirmation"
	KeyEscalation    = "escalation_notice"
	KeyOptOut        = "opt_out_farewell"
	KeyOutOfOffice   = "out_of_office"
	KeyReminder      = "appointment_reminder"
	KeyFallback      = "fallback"
)

// DefaultCatalog returns the built-in outbound templates. Bodies use
// {variable} placeholders; unresolved optional placeholders are stripped at
// render time.
func DefaultCatalog() []Template {
	return []Template{
		{
			Key:  KeyGreeting,
			Kind: event.KindText,
			Bodies: []string{
				"¡Hola {nombre}! 👋\n\nBienvenido/a a Anclora Private Estates, tu agencia inmobiliaria de lujo en Mallorca.\n\n¿En qué podemos ayudarte hoy?",
				"¡Hola {nombre}! 😊\n\nGracias por contactar con Anclora Private Estates. Somos especialistas en propiedades de lujo en Mallorca.\n\n¿Qué tipo de propiedad buscas?",
			},
			RequiredVars: []string{"nombre"},
		},
		{
			Key:  KeyClarify,
			Kind: event.KindText,
			Bodies: []string{
				"Perfecto {nombre}, para ayudarte mejor necesito conocer algunos detalles:\n\n1️⃣ ¿Cuál es tu presupuesto aproximado?\n2️⃣ ¿Zona preferida en Mallorca?\n3️⃣ ¿Tipo de propiedad?\n\nCon esta info podré mostrarte las mejores opciones.",
				"Genial {nombre}, vamos a encontrar tu propiedad ideal 🎯\n\nCuéntame:\n• Presupuesto máximo\n• Zonas que te gustan\n• Características imprescindibles",
			},
			RequiredVars: []string{"nombre"},
		},
		{
			Key:  KeyQualifiedFlow,
			Kind: event.KindText,
			Bodies: []string{
				"¡Perfecto {nombre}! Tengo varias propiedades que encajan con lo que buscas.\n\n¿Te las envío por aquí o prefieres que te llame un asesor?",
			},
			RequiredVars: []string{"nombre"},
		},
		{
			Key:  KeyAppointment,
			Kind: event.KindText,
			Bodies: []string{
				"✅ *Cita Confirmada*\n\n📅 Fecha: {fecha}\n🕐 Hora: {hora}\n👤 Asesor: {asesor}\n\n¡Estamos deseando atenderte!",
				"¡Perfecto! Tu visita está confirmada ✅\n\n🗓️ {fecha} a las {hora}\n👨‍💼 Te atenderá {asesor}\n\nRecibirás un recordatorio 24h antes.",
			},
			RequiredVars: []string{"fecha", "hora", "asesor"},
		},
		{
			Key:  KeyEscalation,
			Kind: event.KindText,
			Bodies: []string{
				"¡Perfecto! Voy a conectarte con uno de nuestros asesores especializados.\n\nTe contactaremos en breve. 👨‍💼",
			},
		},
		{
			Key:  KeyOptOut,
			Kind: event.KindText,
			Bodies: []string{
				"Entendido, no volveremos a enviarte mensajes automáticos.\n\n¡Gracias por contactar con Anclora! 🏡",
			},
		},
		{
			Key:  KeyOutOfOffice,
			Kind: event.KindText,
			Bodies: []string{
				"Hola {nombre} 👋\n\nGracias por tu mensaje. En este momento estamos fuera del horario de atención.\n\nNuestro horario:\n🕐 Lunes a Viernes: 9:00-19:00\n🕐 Sábados: 10:00-14:00\n\nTe responderemos lo antes posible.",
			},
			RequiredVars: []string{"nombre"},
		},
		{
			Key:  KeyReminder,
			Kind: event.KindText,
			Bodies: []string{
				"⏰ *Recordatorio de Cita*\n\nHola {nombre}, te recordamos tu visita:\n\n📅 {fecha}\n🕐 {hora}\n\nSi necesitas cancelar o reprogramar, avísanos.",
			},
			RequiredVars: []string{"nombre", "fecha", "hora"},
		},
		{
			Key:  KeyFallback,
			Kind: event.KindText,
			Bodies: []string{
				"Gracias por tu mensaje. Un miembro de nuestro equipo lo revisará y te responderá en breve.",
			},
		},
	}
}
