// internal/service/email/templates.go
package email

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// layout wraps content in the branded email shell.
func layout(title, content string) string {
	header := `
	<!DOCTYPE html>
	<html>
	<head>
		<meta charset="utf-8" />
		<title>` + html.EscapeString(title) + `</title>
		<style>
			body { font-family: Arial, sans-serif; background-color: #f6f8fa; padding: 30px; }
			.container { max-width: 600px; margin: auto; background: #fff; border-radius: 10px; overflow: hidden; box-shadow: 0 2px 5px rgba(0,0,0,0.1); }
			.header { background: #0b3d5c; color: white; text-align: center; padding: 20px; font-size: 22px; font-weight: bold; }
			.footer { background: #f1f1f1; color: #555; text-align: center; padding: 15px; font-size: 13px; }
			.body { padding: 25px; color: #333; line-height: 1.6; }
			.warning { color: #856404; background-color: #fff3cd; padding: 12px; border-radius: 4px; }
			a.button { display: inline-block; background: #0b3d5c; color: white; padding: 10px 20px; border-radius: 5px; text-decoration: none; }
		</style>
	</head>
	<body>
	<div class="container">
		<div class="header">CIM Amplify</div>
		<div class="body">
	`

	footer := fmt.Sprintf(`
		</div>
		<div class="footer">
			<p>&copy; %d CIM Amplify. All rights reserved.</p>
			<p>This is an automated email, please do not reply.</p>
		</div>
	</div>
	</body>
	</html>
	`, time.Now().Year())

	return header + strings.TrimSpace(content) + footer
}

func paymentFailedEmail(fullName, reason, billingURL string) (string, string) {
	subject := "Your membership payment failed"
	if reason == "" {
		reason = "Your card was declined."
	}
	body := fmt.Sprintf(`
		<h2>We couldn't process your payment</h2>
		<p>Hello %s,</p>
		<p>We tried to renew your advisor membership but the charge did not go through.</p>
		<div class="warning">%s</div>
		<p>Please update your payment method to keep receiving seller introductions.</p>
		<p><a href="%s" class="button">Update payment method</a></p>
	`, html.EscapeString(fullName), html.EscapeString(reason), billingURL)
	return subject, layout(subject, body)
}

func subscriptionExpiredEmail(fullName, reactivateURL string, endedAt *time.Time) (string, string) {
	subject := "Your advisor membership has expired"
	ended := ""
	if endedAt != nil {
		ended = fmt.Sprintf(" on %s", endedAt.Format("January 2, 2006"))
	}
	body := fmt.Sprintf(`
		<h2>Your membership has expired</h2>
		<p>Hello %s,</p>
		<p>Your advisor membership ended%s. You will no longer receive new seller matches or introductions.</p>
		<p><a href="%s" class="button">Reactivate membership</a></p>
	`, html.EscapeString(fullName), ended, reactivateURL)
	return subject, layout(subject, body)
}

func introductionEmail(advisorName, sellerCompany, sellerName, sellerEmail, message string) (string, string) {
	subject := fmt.Sprintf("Introduction request from %s", sellerCompany)
	note := ""
	if strings.TrimSpace(message) != "" {
		note = fmt.Sprintf(`<p><em>"%s"</em></p>`, html.EscapeString(message))
	}
	body := fmt.Sprintf(`
		<h2>A seller would like to connect</h2>
		<p>Hello %s,</p>
		<p>%s from <strong>%s</strong> matched with your profile and asked for an introduction.</p>
		%s
		<p>You can reach them at <a href="mailto:%s">%s</a>.</p>
	`,
		html.EscapeString(advisorName),
		html.EscapeString(sellerName), html.EscapeString(sellerCompany),
		note,
		html.EscapeString(sellerEmail), html.EscapeString(sellerEmail),
	)
	return subject, layout(subject, body)
}
