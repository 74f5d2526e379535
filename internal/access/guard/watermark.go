// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package guard

import (
	"strings"
	"time"
)

// WatermarkValues fills the recognized template placeholders.
type WatermarkValues struct {
	UserEmail string
	UserID    string
	UserName  string
	IPAddress string
	At        time.Time
}

// RenderWatermark substitutes {{user_email}}, {{user_id}}, {{user_name}},
// {{timestamp}}, {{date}} and {{ip}}. Any other {{...}} is left verbatim.
func RenderWatermark(template string, values WatermarkValues) string {
	at := values.At.UTC()
	return strings.NewReplacer(
		"{{user_email}}", values.UserEmail,
		"{{user_id}}", values.UserID,
		"{{user_name}}", values.UserName,
		"{{timestamp}}", at.Format("2006-01-02 15:04:05"),
		"{{date}}", at.Format(time.DateOnly),
		"{{ip}}", values.IPAddress,
	).Replace(template)
}
