package email

import (
	"fmt"
	"html"
)

// AlertDetails is what both alert templates render.
type AlertDetails struct {
	Address        string
	DetectionClass string
	OwnerName      string
	OwnerEmail     string
	// MapsURL is empty when the site has no coordinates.
	MapsURL  string
	ImageURL string
}

// MapsLink returns a Google Maps link for a point.
func MapsLink(lat, lng float64) string {
	return fmt.Sprintf("http://maps.google.com/?q=%v,%v", lat, lng)
}

func mapsParagraph(url, label string) string {
	if url == "" {
		return ""
	}
	return fmt.Sprintf(`<p><a href="%s" target="_blank">%s</a></p>`, html.EscapeString(url), label)
}

func OwnerAlert(to string, d AlertDetails) Message {
	name := d.OwnerName
	if name == "" {
		name = "Owner"
	}
	htmlBody := fmt.Sprintf(`<p>Dear %s,</p>
<p>We detected %s at your property (%s). Automated verification has confirmed this is a real fire.</p>
%s`,
		html.EscapeString(name), html.EscapeString(d.DetectionClass), html.EscapeString(d.Address),
		mapsParagraph(d.MapsURL, "Open location in Google Maps"))
	text := fmt.Sprintf("Dear %s,\n\nWe detected %s at your property (%s). Automated verification has confirmed this is a real fire.\n%s",
		name, d.DetectionClass, d.Address, d.MapsURL)

	return Message{
		To:       to,
		Subject:  fmt.Sprintf("URGENT: Fire detected at %s", d.Address),
		HTMLBody: htmlBody,
		TextBody: text,
		ImageURL: d.ImageURL,
	}
}

func ResponderAlert(to string, d AlertDetails) Message {
	htmlBody := fmt.Sprintf(`<p>Fire alert at %s</p>
<p>Detection: %s</p>
<p>Property owner: %s</p>
<p>Automated verification has confirmed this is a real fire.</p>
%s`,
		html.EscapeString(d.Address), html.EscapeString(d.DetectionClass), html.EscapeString(d.OwnerEmail),
		mapsParagraph(d.MapsURL, "Navigate"))
	text := fmt.Sprintf("Fire alert at %s\nDetection: %s\nProperty owner: %s\n%s",
		d.Address, d.DetectionClass, d.OwnerEmail, d.MapsURL)

	return Message{
		To:       to,
		Subject:  fmt.Sprintf("ALERT: Fire at %s", d.Address),
		HTMLBody: htmlBody,
		TextBody: text,
		ImageURL: d.ImageURL,
	}
}
