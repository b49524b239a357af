package ospf

import (
	"github.com/klauspost/compress/zstd"

	"github.com/holo-routing/routingd/internal/metrics"
)

// LSDB is one area's link-state database (AS-scope type-5 LSAs use
// areaID ""). Grounded on the same dedup-by-canonical-key shape as
// internal/attrstore, but LSAs are not reference-counted shared
// values: each is a standalone, mutable record that gets replaced
// wholesale on a more-recent instance, so a plain map fits better than
// attrstore's interning semantics here.
//
// Each LSA's raw body is kept zstd-compressed at rest (the same
// klauspost/compress codec IBUS uses for payloads) so that reflooding
// an LSA unchanged re-emits its exact original bytes without having to
// re-serialize from the parsed fields.
type LSDB struct {
	instance string
	areaID   string
	entries  map[LSID]lsdbEntry
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

type lsdbEntry struct {
	meta           LSA // Body left nil; only the header/metadata fields are used
	compressedBody []byte
}

func NewLSDB(instance, areaID string) *LSDB {
	enc, _ := zstd.NewWriter(nil)
	dec, _ := zstd.NewReader(nil)
	return &LSDB{
		instance: instance,
		areaID:   areaID,
		entries:  make(map[LSID]lsdbEntry),
		enc:      enc,
		dec:      dec,
	}
}

// Install inserts or replaces lsa if it is more recent than any
// existing instance (RFC 2328 §13). Returns true if the LSDB changed
// (the caller must then re-flood and mark SPF dirty).
func (d *LSDB) Install(lsa LSA) bool {
	if existing, ok := d.entries[lsa.ID]; ok && !IsMoreRecent(lsa, existing.meta) {
		return false
	}
	meta := lsa
	meta.Body = nil
	d.entries[lsa.ID] = lsdbEntry{meta: meta, compressedBody: d.enc.EncodeAll(lsa.Body, nil)}
	metrics.FloodedLSAsTotal.WithLabelValues(d.instance, d.areaID).Inc()
	return true
}

func (d *LSDB) Get(id LSID) (LSA, bool) {
	e, ok := d.entries[id]
	if !ok {
		return LSA{}, false
	}
	return d.reconstitute(e), true
}

func (d *LSDB) Delete(id LSID) {
	delete(d.entries, id)
}

func (d *LSDB) Each(fn func(LSA) bool) {
	for _, e := range d.entries {
		if !fn(d.reconstitute(e)) {
			return
		}
	}
}

func (d *LSDB) reconstitute(e lsdbEntry) LSA {
	lsa := e.meta
	if len(e.compressedBody) > 0 {
		if body, err := d.dec.DecodeAll(e.compressedBody, nil); err == nil {
			lsa.Body = body
		}
	}
	return lsa
}

func (d *LSDB) Len() int { return len(d.entries) }

// AgeAll advances every LSA's age by deltaSeconds, expiring (removing)
// any that reach MaxAge (RFC 2328 §14). The instance does not call it:
// no periodic aging timer is armed, so installed LSAs do not age.
func (d *LSDB) AgeAll(deltaSeconds uint16) (expired []LSID) {
	for id, e := range d.entries {
		newAge := e.meta.Age + deltaSeconds
		if newAge >= MaxAge {
			expired = append(expired, id)
			delete(d.entries, id)
			continue
		}
		e.meta.Age = newAge
		d.entries[id] = e
	}
	return expired
}
