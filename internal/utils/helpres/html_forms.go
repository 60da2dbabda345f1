package helpers

import (
	"fmt"
	"html"
)

func BuildSimpleHTML(title, body string) string {
	return fmt.Sprintf(`
<html>
  <body style="font-family:Arial,sans-serif; background:#f9f9f9;">
    <table width="100%%" cellpadding="0" cellspacing="0" bgcolor="#f9f9f9">
      <tr>
        <td align="center" style="padding:32px 0;">
          <table width="600" bgcolor="#fff" cellpadding="24" cellspacing="0" style="border-radius:8px; box-shadow:0 1px 6px #eee;">
            <tr>
              <td>
                <h2 style="color:#1E3A8A; margin-top:0;">%s</h2>
                <div style="font-size:16px; color:#222;">%s</div>
                <hr style="margin:32px 0 16px 0; border:0; border-top:1px solid #eee;">
                <div style="font-size:12px; color:#999;">This message was generated automatically. Please do not reply.</div>
              </td>
            </tr>
          </table>
        </td>
      </tr>
    </table>
  </body>
</html>
`, html.EscapeString(title), body)
}

// BuildPasswordResetHTML renders the reset email. ttlLabel is a human string like "1 hour".
func BuildPasswordResetHTML(appName, resetURL, ttlLabel string) string {
	link := html.EscapeString(resetURL)
	body := fmt.Sprintf(`
      <p>You are receiving this email because a password reset was requested for your %s account.</p>
      <p>Click the button below to choose a new password:</p>
      <p><a href="%s" style="display:inline-block;padding:12px 24px;background:#1E3A8A;color:#fff;text-decoration:none;border-radius:6px;font-weight:600;">Reset Password</a></p>
      <p>This link expires in %s.</p>
      <p>If you did not request a password reset, ignore this email.</p>
      <p style="font-size:12px;color:#999;margin-top:16px;">If the button does not work, copy this link: %s</p>
    `, html.EscapeString(appName), link, html.EscapeString(ttlLabel), link)
	return BuildSimpleHTML("Reset Password", body)
}
