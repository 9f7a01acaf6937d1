package notify

import (
	"html"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/lildude/strautocoach/internal/analysis"
	"github.com/lildude/strautocoach/internal/model"
)

var sportEmoji = map[string]string{
	"Run":            "🏃",
	"TrailRun":       "🏃",
	"VirtualRun":     "🏃",
	"Ride":           "🚴",
	"VirtualRide":    "🚴",
	"GravelRide":     "🚴",
	"Swim":           "🏊",
	"Walk":           "🚶",
	"Hike":           "🥾",
	"WeightTraining": "🏋️",
	"Yoga":           "🧘",
}

// sportName turns "TrailRun" into "Trail Run".
func sportName(sport string) string {
	if sport == "" {
		return "Workout"
	}
	var b strings.Builder
	for i, r := range sport {
		if i > 0 && unicode.IsUpper(r) {
			b.WriteRune(' ')
		}
		b.WriteRune(r)
	}
	return cases.Title(language.English).String(b.String())
}

func emoji(sport string) string {
	if e, ok := sportEmoji[sport]; ok {
		return e
	}
	return "💪"
}

func duration(p *message.Printer, seconds int) string {
	h, m, s := seconds/3600, seconds%3600/60, seconds%60
	if h > 0 {
		return p.Sprintf("%dh %02dm", h, m)
	}
	return p.Sprintf("%dm %02ds", m, s)
}

func pace(p *message.Printer, secondsPerKm float64) string {
	total := int(secondsPerKm + 0.5)
	return p.Sprintf("%d:%02d /km", total/60, total%60)
}

func bullets(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n" + title + "\n")
	for _, it := range items {
		b.WriteString("• " + html.EscapeString(it) + "\n")
	}
}

// BuildMessage renders the Telegram HTML message for an activity and its
// feedback, which may be nil.
func BuildMessage(a *model.Activity, fb *model.Feedback, tag language.Tag) string {
	p := message.NewPrinter(tag)

	name := a.Name
	if name == "" {
		name = sportName(a.SportType)
	}

	var metrics []string
	if a.DistanceMeters > 0 {
		metrics = append(metrics, p.Sprintf("📏 Distance: <b>%.2f km</b>", a.DistanceMeters/1000))
	}
	if a.MovingTimeSeconds > 0 {
		metrics = append(metrics, "⏱ Duration: <b>"+duration(p, a.MovingTimeSeconds)+"</b>")
	}
	if a.DistanceMeters > 0 && a.MovingTimeSeconds > 0 {
		if analysis.IsRun(a.SportType) {
			metrics = append(metrics, "🏃 Pace: <b>"+pace(p, float64(a.MovingTimeSeconds)/(a.DistanceMeters/1000))+"</b>")
		} else {
			metrics = append(metrics, p.Sprintf("⚡ Speed: <b>%.1f km/h</b>", a.AverageSpeed*3.6))
		}
	}
	if a.HasHeartrate && a.AverageHeartrate != nil {
		metrics = append(metrics, p.Sprintf("❤️ Heart rate: <b>%.0f bpm</b>", *a.AverageHeartrate))
	}
	if a.TotalElevationGain > 0 {
		metrics = append(metrics, p.Sprintf("⛰ Elevation: <b>%.0f m</b>", a.TotalElevationGain))
	}
	if a.Calories != nil && *a.Calories > 0 {
		metrics = append(metrics, p.Sprintf("🔥 Calories: <b>%d kcal</b>", *a.Calories))
	}

	var b strings.Builder
	b.WriteString(emoji(a.SportType) + " <b>" + html.EscapeString(name) + "</b>\n")
	b.WriteString("📅 " + a.StartDate.Format("Mon 2 Jan 2006, 15:04") + "\n")

	if len(metrics) > 0 {
		b.WriteString("\n📊 <b>Metrics</b>\n")
		b.WriteString(strings.Join(metrics, "\n"))
		b.WriteString("\n")
	}

	if fb == nil {
		b.WriteString("\n⏳ <i>Feedback is still being generated...</i>")
		return b.String()
	}

	if fb.Summary != "" {
		b.WriteString("\n💬 <b>Summary</b>\n" + html.EscapeString(fb.Summary) + "\n")
	}
	bullets(&b, "✅ <b>Positives</b>", fb.Positives)
	bullets(&b, "📈 <b>To improve</b>", fb.Improvements)
	bullets(&b, "🎯 <b>Recommendations</b>", fb.Recommendations)

	return strings.TrimSpace(b.String())
}
