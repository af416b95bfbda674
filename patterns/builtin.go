package patterns

// wrap matches the body of a quote header that a mail client may have
// hard-wrapped: the rest of the first line plus up to two continuation lines.
// A continuation line is never empty and never starts with '>'.
const wrap = `[^\n]+?(?:\n[^>\n][^\n]*?){0,2}`

// leadIn builds a header of the form "WORD ... TAIL" anchored to a line.
func leadIn(word, tail string) string {
	return `(?m)^\s*(` + word + `\s` + wrap + `\s?` + tail + `)$`
}

// fromBlock builds a "Field: NAME <EMAIL>" header line.
func fromBlock(field string) string {
	return `(?m)^\s*(` + field + `\s?:.+\s?[\[<].+[\]>])`
}

var builtinQuoteHeaders = []string{
	// On DATE, NAME <EMAIL> wrote:
	leadIn("On", `wrote:`),
	// Le DATE, NAME <EMAIL> a écrit :
	leadIn("Le", `a\sécrit\s?:`),
	// El DATE, NAME <EMAIL> escribió:
	leadIn("El", `escribió:`),
	// Il DATE, NAME <EMAIL> ha scritto:
	leadIn("Il", `ha\sscritto:`),
	// Em DATE, NAME <EMAIL> escreveu:
	leadIn("Em", `escreveu:`),
	// Am DATE schrieb NAME <EMAIL>:
	`(?m)^\s*(Am\s.+\sschrieb\s.+\s?[\[<].+[\]>]\s?:)$`,
	// Op DATE schreef NAME <EMAIL>:
	`(?m)^\s*(Op\s` + wrap + `\s(?:schreef|verzond|geschreven)(?:\s` + wrap + `)?\s?:)$`,
	// W dniu DATE, NAME <EMAIL> pisze:
	`(?m)^\s*((?:W\sdniu|Dnia)\s` + wrap + `\s(?:pisze|napisał(?:\(a\))?):)$`,
	// Den DATE skrev NAME <EMAIL>:
	`(?m)^\s*(Den\s.+\sskrev\s.+:)$`,
	// pe DATE NAME <EMAIL> kirjoitti:
	`(?m)^\s*(pe\s.+\s.+kirjoitti:)$`,
	// 在 DATE, TIME, NAME 写道：
	`(?m)^(在` + wrap + `写道：)$`,
	// DATE TIME NAME 작성:
	`(?m)^(20[0-9]{2}\..+\s작성:)$`,
	// DATE TIME、NAME のメッセージ:
	`(?m)^(20[0-9]{2}/.+のメッセージ:)$`,
	// NAME <EMAIL> schrieb:
	`(?m)^(.+\s<.+>\sschrieb:)$`,
	fromBlock("From"),
	fromBlock("Von"),
	fromBlock("De"),
	fromBlock("Van"),
	fromBlock("Da"),
	fromBlock("发件人"),
	// 20YY-MM-DD HH:II GMT+01:00 NAME <EMAIL>:
	`(?m)^(20[0-9]{2}-(?:0?[1-9]|1[012])-(?:0?[0-9]|[1-2][0-9]|3[01]|[1-9])\s[0-2]?[0-9]:\d{2}\s` + wrap + `:)$`,
	// tir. DATE skrev NAME <EMAIL>:
	`(?m)^\s*([a-z]{3,4}\.\s` + wrap + `\sskrev\s` + wrap + `:)$`,
	// DD.MM.20YY HH:II "NAME" <EMAIL>:
	`(?m)^([0-9]{2}.[0-9]{2}.20[0-9]{2}.*[0-9]{2}.[0-9]{2}.*" *<.*> *:)$`,
	// HH:II, DATE, "NAME" <EMAIL>:
	`(?m)^([0-9]{2}:[0-9]{2}.*[0-9]{4}.*" *<.*> *:)$`,
	// DATE, TIME, from NAME <EMAIL>:
	`(?m)^(.*[0-9]{4}.*from.*<.*>:)$`,
	`(?mi)^(-{1,12} ?original message ?-{1,12})$`,
	`(?mi)^(-{1,12} ?oprindelig besked ?-{1,12})$`,
	`(?mi)^(-{1,12} ?message d'origine ?-{1,12})$`,
	`(?mi)^(-{1,12} ?ursprüngliche nachricht ?-{1,12})$`,
}

var builtinSignatures = []string{
	`^\s*-{2,4}$`,
	`^\s*_{2,4}$`,
	`^-- $`,
	`^-- \s*.+$`,
	`^\+{30,}$`,
	`^={30,}$`,
	`^Sent from my (\w+\s*){1,3}`,
	`^Get Outlook for (\w+\s*){1,3}`,
	`(?i)^Cheers,?!?$`,
	`(?i)^Best wishes,?!?$`,
	`(?i)^\w{0,20}\s?(\sand\s)?Regards,?!?！?$`,
	`^Envoyé depuis (\w+\s*){1,3}`,
	`^Von meinem (\w+\s*){1,3} gesendet`,
	`^Sendt fra (\w+\s*){1,3}`,
	`^Skickat från (\w+\s*){1,3}`,
	`^Verzonden vanaf (\w+\s*){1,3}`,
	`^Enviado desde (\w+\s*){1,3}`,
	`^Enviado do meu (\w+\s*){1,3}`,
	`^Inviato da (\w+\s*){1,3}`,
}
