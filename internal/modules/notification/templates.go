// README: Push notification templates for carpool status changes.
package notification

import "fmt"

const (
	TemplateRiderJoined  = "carpool_rider_joined"
	TemplateRideStarted  = "carpool_started"
	TemplateLegFinished  = "carpool_leg_finished"
	TemplateLegCanceled  = "carpool_leg_canceled"
	TemplateRideCanceled = "carpool_canceled"
	TemplateRideExpired  = "carpool_expired"
)

// Render turns a template and its data into the visible title and body.
// Unknown templates render a generic status update.
func Render(template string, data map[string]string) (title, body string) {
	dest := data["destination"]
	if dest == "" {
		dest = "your destination"
	}
	switch template {
	case TemplateRiderJoined:
		return "New rider", fmt.Sprintf("A rider joined your carpool to %s.", dest)
	case TemplateRideStarted:
		return "Carpool started", fmt.Sprintf("Your driver is on the way to %s.", dest)
	case TemplateLegFinished:
		return "Trip completed", "A participant finished their trip."
	case TemplateLegCanceled:
		return "Participant left", "A participant canceled their trip."
	case TemplateRideCanceled:
		return "Carpool canceled", fmt.Sprintf("The carpool to %s was canceled.", dest)
	case TemplateRideExpired:
		return "Carpool expired", fmt.Sprintf("The carpool to %s expired before it started.", dest)
	default:
		return "Carpool update", "Your carpool status changed."
	}
}
