package extraction

import (
	"fmt"
	"strings"
)

const extractionSystemPrompt = `You are an intelligent assistant from Azentyk that helps users book and track doctor appointments.
Your task is to extract structured appointment details from a phone conversation transcript.
Only use what the caller or assistant actually said. If any information is missing or not mentioned, set its value to null. Never guess and never omit a key.
Respond with a single valid JSON object and nothing else.`

var (
	bookingFields = []string{
		"username", "phone_number", "mail", "location", "hospital_name", "specialization",
		"appointment_booking_date", "appointment_booking_time", "appointment_status",
	}
	cancelFields       = []string{"username", "appointment_id", "appointment_status"}
	rescheduleFields   = []string{"username", "appointment_id", "appointment_status", "new_date", "new_time"}
	confirmationFields = []string{"username", "appointment_id", "appointment_status"}
)

var fieldDescriptions = map[string]string{
	"username":                 "the patient's name",
	"phone_number":             "the patient's phone number",
	"mail":                     "the patient's email address",
	"location":                 "the city or area the patient chose",
	"hospital_name":            "the hospital the patient chose",
	"specialization":           "the doctor name and specialization",
	"appointment_booking_date": "the appointment date",
	"appointment_booking_time": "the appointment time",
	"appointment_id":           "the appointment id, for example APT-JOHN-17000001234",
	"new_date":                 "the new appointment date if mentioned",
	"new_time":                 "the new appointment time if mentioned",
}

func bookingPrompt(transcript string) string {
	return renderPrompt("book", `- appointment_status: one of "booking in progress", "confirmed", "pending", "cancelled", "rescheduled", or null`,
		bookingFields, transcript, "")
}

func cancelPrompt(transcript string) string {
	return renderPrompt("cancel", `- appointment_status: "cancelled" or null`, cancelFields, transcript, "")
}

func reschedulePrompt(transcript string, year int) string {
	return renderPrompt("reschedule", `- appointment_status: "rescheduled" or null
- new_date: DD-MM-YYYY or the caller's own wording, else null
- new_time: HH:MM AM/PM or 24 hour time, else null`,
		rescheduleFields, transcript, fmt.Sprintf("Current Year: %d", year))
}

func confirmationPrompt(transcript string) string {
	return renderPrompt("confirm", `- appointment_status: one of "confirmed", "cancelled", "rescheduled", or null`,
		confirmationFields, transcript, "")
}

func renderPrompt(action, statusRules string, fields []string, transcript, preamble string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The caller wants to %s a doctor appointment.\n", action)
	if preamble != "" {
		b.WriteString(preamble)
		b.WriteString("\n")
	}
	b.WriteString("\nExtract these fields:\n")
	for _, f := range fields {
		if d := fieldDescriptions[f]; d != "" {
			fmt.Fprintf(&b, "- %s: %s\n", f, d)
		}
	}
	b.WriteString(statusRules)
	b.WriteString("\n\nFormat the response as a JSON object with exactly these keys: ")
	b.WriteString(strings.Join(fields, ", "))
	b.WriteString(".\n\n### Conversation History:\n")
	b.WriteString(transcript)
	b.WriteString("\n\nNow, based on the conversation above, generate a valid JSON object as the output.")
	return b.String()
}
