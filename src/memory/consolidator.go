package memory

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"

	cm "github.com/swarmworks/hivemind/src/common"
	"github.com/swarmworks/hivemind/src/notify"
)

// mergedKeyPrefix namespaces consolidated entries within their own
// namespace, so merged output is itself a candidate on later runs.
const mergedKeyPrefix = "consolidated/"

// ConsolidationReport summarizes one consolidation pass.
type ConsolidationReport struct {
	Namespace string   `json:"namespace"`
	Scanned   int      `json:"scanned"`
	Groups    int      `json:"groups"`
	Merged    int      `json:"merged"`
	Created   []string `json:"created,omitempty"`
}

// candidateTypes lists the memory types consolidation considers. Short-lived
// types expire on their own and are not worth merging.
var candidateTypes = map[MemoryType]bool{
	TypeKnowledge: true,
	TypeResult:    true,
}

// decodeObject decodes a JSON object payload. It returns nil when the
// payload is not an object.
func decodeObject(raw []byte) map[string]interface{} {
	jh := new(codec.JsonHandle)

	var obj map[string]interface{}
	if err := codec.NewDecoderBytes(raw, jh).Decode(&obj); err != nil {
		return nil
	}

	return obj
}

// signature fingerprints an entry by its type and payload shape: the sorted
// top-level keys of a JSON object payload, or a scalar marker otherwise.
func signature(e *Entry) (string, error) {
	raw, err := e.RawPayload()
	if err != nil {
		return "", err
	}

	obj := decodeObject(raw)
	if obj == nil {
		return cm.EncodeUint32(cm.Fingerprint(string(e.Type), "scalar")), nil
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := append([]string{string(e.Type)}, keys...)

	return cm.EncodeUint32(cm.Fingerprint(parts...)), nil
}

// mergeGroup folds a group of like-shaped entries, oldest write first, into
// a single payload and confidence. Object payloads overlay field by field,
// so the latest write wins per field; non-object payloads collapse to the
// latest payload. Confidence is the access-weighted mean of the group.
func mergeGroup(group []*Entry) ([]byte, float64, error) {
	sort.Slice(group, func(i, j int) bool {
		a, b := group[i], group[j]
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.Before(b.UpdatedAt)
		}
		return a.Key < b.Key
	})

	merged := map[string]interface{}{}
	isObject := true

	var latestRaw []byte

	weightedConf := 0.0
	weightSum := 0.0

	for _, e := range group {
		raw, err := e.RawPayload()
		if err != nil {
			return nil, 0, err
		}
		latestRaw = raw

		if isObject {
			obj := decodeObject(raw)
			if obj == nil {
				isObject = false
			} else {
				for k, v := range obj {
					merged[k] = v
				}
			}
		}

		w := 1.0 + float64(e.AccessCount)
		weightedConf += e.Confidence * w
		weightSum += w
	}

	confidence := 0.0
	if weightSum > 0 {
		confidence = weightedConf / weightSum
	}

	if !isObject {
		return latestRaw, confidence, nil
	}

	jh := new(codec.JsonHandle)
	jh.Canonical = true

	var out []byte
	if err := codec.NewEncoderBytes(&out, jh).Encode(merged); err != nil {
		return nil, 0, err
	}

	return out, confidence, nil
}

// Consolidate scans a namespace for same-shaped knowledge and result
// entries, merges each group of two or more into a single entry, and marks
// the sources as superseded by the merged key. Superseded sources are
// skipped on later runs, so repeating a pass over unchanged data is a
// no-op.
func (c *Coordinator) Consolidate(namespace string) (*ConsolidationReport, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace is empty")
	}

	// Fold pending cache-hit bumps in first, so access weighting sees
	// current counts.
	c.FlushAccess()

	now := timeNow().UTC()
	report := &ConsolidationReport{Namespace: namespace}

	groups := map[string][]*Entry{}
	err := c.store.ScanEntries(namespace, func(e *Entry) bool {
		if report.Scanned >= c.scanLimit {
			return false
		}
		if !candidateTypes[e.Type] || e.SupersededBy != "" || e.Expired(now) {
			return true
		}

		report.Scanned++

		sig, err := signature(e)
		if err != nil {
			c.logger.WithField("error", err).Errorf("Fingerprinting %s", e.CompositeKey())
			return true
		}

		groups[sig] = append(groups[sig], e)

		return true
	})
	if err != nil {
		return nil, err
	}

	sigs := make([]string, 0, len(groups))
	for sig, group := range groups {
		if len(group) >= 2 {
			sigs = append(sigs, sig)
		}
	}
	sort.Strings(sigs)

	report.Groups = len(sigs)

	for _, sig := range sigs {
		group := groups[sig]

		payload, confidence, err := mergeGroup(group)
		if err != nil {
			c.logger.WithField("error", err).Errorf("Merging group %s", sig)
			continue
		}

		mergedKey := mergedKeyPrefix + sig

		created, merged, err := c.commitGroup(namespace, mergedKey, sig, group, payload, confidence)
		if err != nil {
			c.logger.WithField("error", err).Errorf("Committing group %s", sig)
			continue
		}

		if created {
			report.Created = append(report.Created, mergedKey)
		}
		report.Merged += merged
	}

	c.metrics.RecordConsolidation(report.Merged)

	c.notifier.Emit(notify.Event{
		Kind:      notify.ConsolidationRun,
		Namespace: namespace,
		Detail: map[string]string{
			"scanned": strconv.Itoa(report.Scanned),
			"groups":  strconv.Itoa(report.Groups),
			"merged":  strconv.Itoa(report.Merged),
		},
	})

	c.logger.WithFields(logrus.Fields{
		"namespace": namespace,
		"scanned":   report.Scanned,
		"groups":    report.Groups,
		"merged":    report.Merged,
	}).Debug("Consolidation pass")

	return report, nil
}

// commitGroup writes the merged entry and marks its sources superseded,
// under the write lock. A source rewritten since the scan invalidates the
// whole group; the next pass will pick it up again.
func (c *Coordinator) commitGroup(
	namespace, mergedKey, sig string,
	group []*Entry,
	payload []byte,
	confidence float64,
) (bool, int, error) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	sources := make([]*Entry, 0, len(group))
	for _, e := range group {
		if e.Key == mergedKey {
			// Merged output from an earlier pass joins the group but
			// must not supersede itself.
			continue
		}

		current, err := c.store.PeekEntry(namespace, e.Key)
		if err != nil {
			if cm.IsStore(err, cm.KeyNotFound) {
				return false, 0, fmt.Errorf("source %s vanished mid-pass", e.CompositeKey())
			}
			return false, 0, err
		}
		if current.Version != e.Version {
			return false, 0, fmt.Errorf("source %s rewritten mid-pass", e.CompositeKey())
		}

		sources = append(sources, current)
	}

	memType := group[0].Type

	metadata := map[string]string{
		"consolidated_from": strconv.Itoa(len(sources)),
		"signature":         sig,
	}

	if _, err := c.putLocked(namespace, mergedKey, payload, memType, confidence, metadata); err != nil {
		return false, 0, err
	}

	// The superseded mark is a regular write: it bumps the version and the
	// update time like any other upsert.
	now := timeNow().UTC()

	merged := 0
	for _, src := range sources {
		src.SupersededBy = mergedKey
		src.Version++
		src.UpdatedAt = now
		if err := c.store.SetEntry(src); err != nil {
			c.logger.WithField("error", err).Errorf("Marking %s superseded", src.CompositeKey())
			continue
		}

		c.cache.Remove(src.Namespace, src.Key)
		merged++
	}

	return true, merged, nil
}
