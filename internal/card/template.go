package card

import (
	"bytes"
	"fmt"
	"html/template"

	_ "embed"
)

//go:embed card.html.tmpl
var cardTemplateHTML string

var cardTemplate = template.Must(template.New("card").Parse(cardTemplateHTML))

// Data is everything the card template needs for one word.
type Data struct {
	Text               string
	Phonetic           string
	PartOfSpeech       string
	Definition         string
	Example            string
	ExampleTranslation string
	Date               string
}

// FillTemplate renders the card HTML for a word.
func FillTemplate(data Data) ([]byte, error) {
	if data.Text == "" {
		return nil, fmt.Errorf("card word is empty")
	}

	var buf bytes.Buffer
	if err := cardTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute card template: %w", err)
	}
	return buf.Bytes(), nil
}
