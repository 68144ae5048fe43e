package template

import "fmt"

func NotificationTemplate(subject, message string) string {
	template := fmt.Sprintf(`
		<html>
        <body>
            <h2>%s</h2>
            <p>%s</p>
            <br>
            <p>Best regards,<br>The Vestio Team</p>
        </body>
        </html>
		`, subject, message)
	return template
}
