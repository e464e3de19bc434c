package intent

import "strings"

var rephraseQuestions = map[string]string{
	"en": "Sorry, I didn't quite get that. Could you rephrase what you'd like to do with your calendar?",
	"ru": "Извините, я не совсем понял. Можете переформулировать, что нужно сделать с календарём?",
}

var unavailableQuestions = map[string]string{
	"en": "I can't process requests right now. Please try again in a minute.",
	"ru": "Сейчас я не могу обработать запрос. Попробуйте ещё раз через минуту.",
}

// RephraseQuestion is the generic clarification in the user's language,
// falling back to English.
func RephraseQuestion(lang string) string {
	return localized(rephraseQuestions, lang)
}

// UnavailableQuestion is used when the completion service could not be reached.
func UnavailableQuestion(lang string) string {
	return localized(unavailableQuestions, lang)
}

// BaseLanguage reduces a tag such as "ru-RU" to "ru".
func BaseLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func localized(table map[string]string, lang string) string {
	if q, ok := table[BaseLanguage(lang)]; ok {
		return q
	}
	return table["en"]
}
