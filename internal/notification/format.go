package notification

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/smukkama/aqi-monitor/internal/aqi"
	"github.com/smukkama/aqi-monitor/internal/protocol"
)

const (
	alertTimeLayout = "15:04, 02/01/2006"
	// DateLayout is the date format used in reports and forecasts
	DateLayout    = "02/01/2006"
	defaultAppURL = "Check your app"
)

// AlertData is what an alert message is rendered from
type AlertData struct {
	Location   string
	Index      float64
	Category   aqi.Category
	CapturedAt time.Time
}

// DailyReportData is what a daily report is rendered from
type DailyReportData struct {
	Location        string
	Date            time.Time
	Morning         float64
	MorningCategory aqi.Category
	Evening         float64
	EveningCategory aqi.Category
	Mean            float64
	Summary         string
}

const alertTemplate = `
🚨 *AIR QUALITY ALERT* 🚨

📍 *Location:* {{.Location}}
🌡️ *AQI:* {{int .Index}} ({{emoji .Category.Label}} {{.Category.Label}})
📅 *Time:* {{.CapturedAt.Format "` + alertTimeLayout + `"}}

⚠️ *Health Advisory:*
{{.Category.Recommendation}}

🔗 View details: {{appURL}}
`

const dailyReportTemplate = `
📊 *Daily Air Quality Report* 📊

📍 *Location:* {{.Location}}
📅 *Date:* {{.Date.Format "` + DateLayout + `"}}

🌅 *Morning AQI:* {{int .Morning}} ({{emoji .MorningCategory.Label}} {{.MorningCategory.Label}})
🌆 *Evening AQI:* {{int .Evening}} ({{emoji .EveningCategory.Label}} {{.EveningCategory.Label}})
📈 *Average AQI:* {{int .Mean}}

📋 *Summary:*
{{.Summary}}

🔗 View full report: {{appURL}}
`

const forecastTemplate = `
🔮 *Air Quality Forecast* 🔮

📍 *Location:* {{.Location}}
📅 *Tomorrow ({{.Date}}):*

🌅 *Morning:* {{.Morning}} AQI
🌇 *Afternoon:* {{.Afternoon}} AQI
🌃 *Evening:* {{.Evening}} AQI

💡 *Recommendation:* {{.Advice}}

🔗 View forecast: {{appURL}}
`

// TestMessage is the body of a test notification
const TestMessage = "🧪 Test message from AQI monitor!"

// Formatter renders the alert, daily report and forecast messages
type Formatter struct {
	alert    *template.Template
	report   *template.Template
	forecast *template.Template
}

// NewFormatter parses the message templates. appURL is linked at the end
// of every message.
func NewFormatter(appURL string) (*Formatter, error) {
	if appURL == "" {
		appURL = defaultAppURL
	}

	funcs := template.FuncMap{
		"int":    func(v float64) int { return int(v) },
		"emoji":  aqi.Emoji,
		"appURL": func() string { return appURL },
	}

	parse := func(name, text string) (*template.Template, error) {
		t, err := template.New(name).Funcs(funcs).Parse(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		return t, nil
	}

	f := &Formatter{}
	var err error
	if f.alert, err = parse("alert", alertTemplate); err != nil {
		return nil, err
	}
	if f.report, err = parse("daily_report", dailyReportTemplate); err != nil {
		return nil, err
	}
	if f.forecast, err = parse("forecast", forecastTemplate); err != nil {
		return nil, err
	}
	return f, nil
}

// Alert renders an alert message
func (f *Formatter) Alert(data AlertData) (string, error) {
	return render(f.alert, data)
}

// DailyReport renders a daily report message
func (f *Formatter) DailyReport(data DailyReportData) (string, error) {
	return render(f.report, data)
}

// Forecast renders a forecast message
func (f *Formatter) Forecast(fc protocol.Forecast) (string, error) {
	return render(f.forecast, fc)
}

func render(t *template.Template, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
