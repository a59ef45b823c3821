package checkout

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"boutique/internal/money"
)

//go:embed confirmation.html.tmpl
var templateFS embed.FS

var confirmationTmpl = template.Must(template.New("confirmation.html.tmpl").
	Funcs(template.FuncMap{"price": formatPrice}).
	ParseFS(templateFS, "confirmation.html.tmpl"))

// RenderConfirmation renders the order confirmation email body.
func RenderConfirmation(order OrderResult) (string, error) {
	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, order); err != nil {
		return "", fmt.Errorf("render confirmation: %w", err)
	}
	return buf.String(), nil
}

func formatPrice(m money.Money) string {
	return fmt.Sprintf("%s %d.%02d", m.CurrencyCode, m.Units, m.Nanos/10000000)
}
