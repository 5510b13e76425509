package enrich

import (
	"fmt"
	"unicode/utf8"

	"github.com/jz-wilson/catalog-pricer/pipeline/catalog"
)

// maxDescriptionRunes caps how much of the supplier description goes into the prompt.
const maxDescriptionRunes = 1200

const SystemPrompt = `أنت كاتب محتوى تسويقي لمتجر إلكتروني يخدم السوق السعودي.
اكتب عنواناً قصيراً جذاباً، ووصفاً مقنعاً منسقاً بنقاط، ووسوم بحث عربية.
لا تذكر ادعاءات علاجية أو مبالغات مخالفة للسياسات.
أعد كائن JSON فقط بهذا الشكل دون أي نص آخر:
{"title_ar": "...", "description_ar": "...", "seo_tags_ar": ["...", "..."]}`

const keywords = "خليجي, السعودية, جودة, تصميم عصري, مناسب للاستخدام اليومي, هدية, قيمة ممتازة"

// BuildUserPrompt renders the per-product request.
func BuildUserPrompt(p catalog.Product) string {
	return fmt.Sprintf(`البيانات:
- التصنيف: %s
- العلامة: %s
- العنوان الأصلي: %s
- الوصف الأصلي: %s

المطلوب:
1) عنوان عربي لا يتجاوز 70 حرفاً.
2) وصف تسويقي بفقرات قصيرة ونقاط: الخامة، المزايا، الاستخدام، المناسبة، الضمان أو الاسترجاع.
3) من 10 إلى 15 وسماً بحثياً بدون # وبدون أرقام موديلات.

كلمات مساعدة: %s`, p.Category, p.Brand, p.Title, truncateRunes(p.Description, maxDescriptionRunes), keywords)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
