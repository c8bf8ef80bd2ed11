package models

// ClassNames maps PP-DocLayout class ids to element names.
var ClassNames = [...]string{
	"paragraph_title",
	"image",
	"text",
	"number",
	"abstract",
	"content",
	"figure_title",
	"formula",
	"table",
	"table_title",
	"reference",
	"doc_title",
	"footnote",
	"header",
	"algorithm",
	"footer",
	"seal",
	"chart_title",
	"chart",
	"formula_number",
	"header_image",
	"footer_image",
	"aside_text",
}

// NumClasses is the size of the taxonomy.
const NumClasses = len(ClassNames)

// ClassName returns the name for id and whether id is in the taxonomy.
func ClassName(id int) (string, bool) {
	if id < 0 || id >= NumClasses {
		return "", false
	}
	return ClassNames[id], true
}
