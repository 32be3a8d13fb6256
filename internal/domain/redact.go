package domain

// RedactAddress приводит адрес к публичному виду "first4…last4".
// Применяется ко всем адресам отправителей/плательщиков во внешних фидах.
// Короткие значения возвращаются как есть: резать нечего.
func RedactAddress(addr string) string {
	const keep = 4
	if len(addr) <= keep*2 {
		return addr
	}
	return addr[:keep] + "…" + addr[len(addr)-keep:]
}
