package domain

// DefaultSpamKeywords são termos com forte associação a spam (PT e EN).
// A busca é por substring, sem fronteira de palavra.
var DefaultSpamKeywords = []string{
	"viagra",
	"cialis",
	"casino",
	"cassino",
	"lottery",
	"loteria",
	"bitcoin",
	"crypto",
	"forex",
	"click here",
	"clique aqui",
	"investment opportunity",
	"guaranteed profit",
	"lucro garantido",
	"make money fast",
	"ganhe dinheiro",
	"dinheiro fácil",
	"renda extra",
	"work from home",
	"weight loss",
	"emagreça",
	"cheap pills",
	"adult content",
	"nigerian prince",
	"wire transfer",
	"seo services",
	"backlinks",
}

// DefaultSuspiciousKeywords só penalizam quando mais de dois aparecem juntos
var DefaultSuspiciousKeywords = []string{
	"free",
	"grátis",
	"gratuito",
	"winner",
	"congratulations",
	"parabéns",
	"urgent",
	"urgente",
	"limited time",
	"act now",
	"offer",
	"oferta",
	"discount",
	"desconto",
	"promo",
	"prize",
	"prêmio",
	"bonus",
	"bônus",
	"cash",
	"100%",
	"subscribe",
	"whatsapp",
	"telegram",
}
