package services

import (
	"net"
	"sort"
	"strings"
	"time"

	"corrlab/internal/domain/models"
	"corrlab/pkg/logger"
)

// MatcherConfig holds tunables for IOC matching
type MatcherConfig struct {
	FuzzyThreshold   float64
	SubnetPrefixBits int
	TrustedSources   []string
}

// Matcher normalizes and compares individual indicators of compromise.
type Matcher struct {
	fuzzyThreshold float64
	subnetBits     int
	trusted        map[string]struct{}
	logger         *logger.Logger
}

// NewMatcher creates a new Matcher
func NewMatcher(cfg MatcherConfig, log *logger.Logger) *Matcher {
	if cfg.FuzzyThreshold <= 0 {
		cfg.FuzzyThreshold = 0.8
	}
	if cfg.SubnetPrefixBits <= 0 {
		cfg.SubnetPrefixBits = 24
	}
	trusted := make(map[string]struct{}, len(cfg.TrustedSources))
	for _, s := range cfg.TrustedSources {
		trusted[strings.ToLower(s)] = struct{}{}
	}
	return &Matcher{
		fuzzyThreshold: cfg.FuzzyThreshold,
		subnetBits:     cfg.SubnetPrefixBits,
		trusted:        trusted,
		logger:         log.WithComponent("matcher"),
	}
}

// Normalize canonicalizes an indicator value for its type. The
// operation is idempotent: Normalize(Normalize(x)) == Normalize(x).
func (m *Matcher) Normalize(value string, iocType models.IOCType) string {
	value = strings.TrimSpace(value)

	switch iocType {
	case models.IOCTypeDomain, models.IOCTypeURL, models.IOCTypeEmail:
		return strings.ToLower(value)
	case models.IOCTypeHash:
		return stripNonHex(strings.ToLower(value))
	case models.IOCTypeFilePath, models.IOCTypeRegistryKey:
		return strings.ReplaceAll(value, `\`, "/")
	case models.IOCTypeCVE:
		return strings.ToUpper(value)
	default:
		return value
	}
}

// ExactMatch reports whether two IOCs have the same type and equal
// normalized values.
func (m *Matcher) ExactMatch(a, b models.IOC) bool {
	if a.Type != b.Type {
		return false
	}
	return m.Normalize(a.Value, a.Type) == m.Normalize(b.Value, b.Type)
}

// FuzzyMatch reports whether two same-type IOCs are within the
// configured edit-distance similarity threshold.
func (m *Matcher) FuzzyMatch(a, b models.IOC, threshold float64) bool {
	if a.Type != b.Type {
		return false
	}
	if threshold <= 0 {
		threshold = m.fuzzyThreshold
	}
	va := m.Normalize(a.Value, a.Type)
	vb := m.Normalize(b.Value, b.Type)
	return stringSimilarity(va, vb) >= threshold
}

// DomainFamilyMatch compares the registered domain (last two labels of
// the hostname) of two domain or URL values, so subdomain variation
// does not defeat matching.
func (m *Matcher) DomainFamilyMatch(value1, value2 string) bool {
	d1 := registeredDomain(hostnameOf(value1))
	d2 := registeredDomain(hostnameOf(value2))
	if d1 == "" || d2 == "" {
		return false
	}
	return d1 == d2
}

// SubnetMatch reports whether two IPs share a common CIDR prefix of the
// given bit length.
func (m *Matcher) SubnetMatch(ip1, ip2 string, prefixBits int) bool {
	if prefixBits <= 0 {
		prefixBits = m.subnetBits
	}
	a := net.ParseIP(strings.TrimSpace(ip1))
	b := net.ParseIP(strings.TrimSpace(ip2))
	if a == nil || b == nil {
		return false
	}
	if a4, b4 := a.To4(), b.To4(); a4 != nil && b4 != nil {
		mask := net.CIDRMask(prefixBits, 32)
		return a4.Mask(mask).Equal(b4.Mask(mask))
	}
	mask := net.CIDRMask(prefixBits, 128)
	return a.Mask(mask).Equal(b.Mask(mask))
}

// WeightedIOCScore scores the overlap between two IOC sets in [0,1].
// For each type present in either set it computes the ratio of matched
// values to all observed values of that type, then averages the ratios
// weighted by type specificity.
func (m *Matcher) WeightedIOCScore(iocs1, iocs2 []models.IOC) float64 {
	set1 := m.valuesByType(iocs1)
	set2 := m.valuesByType(iocs2)

	types := make(map[models.IOCType]struct{})
	for t := range set1 {
		types[t] = struct{}{}
	}
	for t := range set2 {
		types[t] = struct{}{}
	}
	if len(types) == 0 {
		return 0
	}

	var weightedSum, totalWeight float64
	for t := range types {
		matches := 0
		total := len(set2[t])
		for v := range set1[t] {
			if _, ok := set2[t][v]; ok {
				matches++
			} else {
				total++
			}
		}
		if total == 0 {
			continue
		}
		w := t.TypeWeight()
		weightedSum += w * (float64(matches) / float64(total))
		totalWeight += w
	}
	if totalWeight == 0 {
		return 0
	}
	return clamp(weightedSum/totalWeight, 0, 1)
}

// InfrastructureScore scores network infrastructure reuse between two
// IOC sets, restricted to ip/domain/url indicators. Exact matches
// contribute 1.0, domain-family matches 0.7, same-subnet matches 0.6.
// Partial infrastructure reuse is meaningful signal even without exact
// IOC equality.
func (m *Matcher) InfrastructureScore(iocs1, iocs2 []models.IOC) float64 {
	infra1 := infrastructureOnly(iocs1)
	infra2 := infrastructureOnly(iocs2)
	if len(infra1) == 0 || len(infra2) == 0 {
		return 0
	}

	// Sum the best contribution per element of the smaller set. With
	// equal sizes take the larger of the two directions so the score
	// stays symmetric.
	minSize := len(infra1)
	if len(infra2) < minSize {
		minSize = len(infra2)
	}

	sum := m.contributionSum(infra1, infra2)
	if len(infra1) == len(infra2) {
		if rev := m.contributionSum(infra2, infra1); rev > sum {
			sum = rev
		}
	} else if len(infra2) < len(infra1) {
		sum = m.contributionSum(infra2, infra1)
	}

	return clamp(sum/float64(minSize), 0, 1)
}

func (m *Matcher) contributionSum(from, against []models.IOC) float64 {
	var sum float64
	for _, a := range from {
		best := 0.0
		for _, b := range against {
			c := m.infrastructureContribution(a, b)
			if c > best {
				best = c
			}
			if best == 1.0 {
				break
			}
		}
		sum += best
	}
	return sum
}

func (m *Matcher) infrastructureContribution(a, b models.IOC) float64 {
	if m.ExactMatch(a, b) {
		return 1.0
	}
	aDomainLike := a.Type == models.IOCTypeDomain || a.Type == models.IOCTypeURL
	bDomainLike := b.Type == models.IOCTypeDomain || b.Type == models.IOCTypeURL
	if aDomainLike && bDomainLike && m.DomainFamilyMatch(a.Value, b.Value) {
		return 0.7
	}
	if a.Type == models.IOCTypeIP && b.Type == models.IOCTypeIP && m.SubnetMatch(a.Value, b.Value, m.subnetBits) {
		return 0.6
	}
	return 0
}

// ConfidenceOf estimates how much an individual IOC can be trusted,
// from type reliability, enrichment, source reputation, and recency.
func (m *Matcher) ConfidenceOf(ioc models.IOC) float64 {
	score := 0.5 + typeReliabilityAdjust(ioc.Type)

	if len(ioc.Enrichment) > 0 {
		score += 0.1
	}
	if _, ok := m.trusted[strings.ToLower(ioc.Source)]; ok {
		score += 0.1
	}
	if !ioc.LastSeen.IsZero() {
		age := time.Since(ioc.LastSeen)
		switch {
		case age <= 7*24*time.Hour:
			score += 0.1
		case age <= 30*24*time.Hour:
			score += 0.05
		}
	}

	return clamp(score, 0, 1)
}

// Cluster groups IOCs with a greedy single pass: each unclustered IOC
// seeds a cluster, and subsequent same-type IOCs join when they fuzzy
// match the seed. O(n^2) per type, acceptable for bounded per-campaign
// indicator lists but not for the full corpus.
func (m *Matcher) Cluster(iocs []models.IOC, threshold float64) [][]models.IOC {
	if threshold <= 0 {
		threshold = m.fuzzyThreshold
	}

	var clusters [][]models.IOC
	seeds := make([]models.IOC, 0)

	for _, ioc := range iocs {
		joined := false
		for i, seed := range seeds {
			if ioc.Type == seed.Type && m.FuzzyMatch(ioc, seed, threshold) {
				clusters[i] = append(clusters[i], ioc)
				joined = true
				break
			}
		}
		if !joined {
			seeds = append(seeds, ioc)
			clusters = append(clusters, []models.IOC{ioc})
		}
	}

	return clusters
}

// Deduplicate merges IOCs keyed by (type, normalized value): confidence
// takes the max, the seen range widens, enrichment maps union.
func (m *Matcher) Deduplicate(iocs []models.IOC) []models.IOC {
	type key struct {
		t models.IOCType
		v string
	}

	index := make(map[key]int)
	result := make([]models.IOC, 0, len(iocs))

	for _, ioc := range iocs {
		normalized := m.Normalize(ioc.Value, ioc.Type)
		k := key{t: ioc.Type, v: normalized}

		i, seen := index[k]
		if !seen {
			merged := ioc
			merged.Value = normalized
			if merged.Enrichment != nil {
				enrichment := make(map[string]string, len(merged.Enrichment))
				for ek, ev := range merged.Enrichment {
					enrichment[ek] = ev
				}
				merged.Enrichment = enrichment
			}
			index[k] = len(result)
			result = append(result, merged)
			continue
		}

		existing := &result[i]
		if ioc.Confidence > existing.Confidence {
			existing.Confidence = ioc.Confidence
		}
		if !ioc.FirstSeen.IsZero() && (existing.FirstSeen.IsZero() || ioc.FirstSeen.Before(existing.FirstSeen)) {
			existing.FirstSeen = ioc.FirstSeen
		}
		if ioc.LastSeen.After(existing.LastSeen) {
			existing.LastSeen = ioc.LastSeen
		}
		if len(ioc.Enrichment) > 0 {
			if existing.Enrichment == nil {
				existing.Enrichment = make(map[string]string, len(ioc.Enrichment))
			}
			for ek, ev := range ioc.Enrichment {
				existing.Enrichment[ek] = ev
			}
		}
	}

	return result
}

// SharedIndicators returns the normalized values exactly matched in
// both IOC sets, sorted for deterministic output.
func (m *Matcher) SharedIndicators(iocs1, iocs2 []models.IOC) []string {
	set1 := m.valuesByType(iocs1)
	set2 := m.valuesByType(iocs2)

	var shared []string
	for t, values := range set1 {
		for v := range values {
			if _, ok := set2[t][v]; ok {
				shared = append(shared, v)
			}
		}
	}
	sort.Strings(shared)
	return shared
}

func (m *Matcher) valuesByType(iocs []models.IOC) map[models.IOCType]map[string]struct{} {
	byType := make(map[models.IOCType]map[string]struct{})
	for _, ioc := range iocs {
		if byType[ioc.Type] == nil {
			byType[ioc.Type] = make(map[string]struct{})
		}
		byType[ioc.Type][m.Normalize(ioc.Value, ioc.Type)] = struct{}{}
	}
	return byType
}

func infrastructureOnly(iocs []models.IOC) []models.IOC {
	var infra []models.IOC
	for _, ioc := range iocs {
		if ioc.Type.IsInfrastructure() {
			infra = append(infra, ioc)
		}
	}
	return infra
}

func typeReliabilityAdjust(t models.IOCType) float64 {
	switch t {
	case models.IOCTypeHash:
		return 0.2
	case models.IOCTypeEmail:
		return 0.18
	case models.IOCTypeMutex:
		return 0.16
	case models.IOCTypeRegistryKey:
		return 0.14
	case models.IOCTypeFilePath:
		return 0.12
	case models.IOCTypeCVE:
		return 0.1
	case models.IOCTypeURL:
		return 0.06
	case models.IOCTypeDomain:
		return 0.04
	case models.IOCTypeIP:
		return 0.02
	default:
		return 0
	}
}

// hostnameOf extracts the hostname from a bare domain or a URL.
func hostnameOf(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if idx := strings.Index(value, "://"); idx != -1 {
		value = value[idx+3:]
	}
	if idx := strings.IndexAny(value, "/?#"); idx != -1 {
		value = value[:idx]
	}
	if idx := strings.Index(value, "@"); idx != -1 {
		value = value[idx+1:]
	}
	if idx := strings.Index(value, ":"); idx != -1 {
		value = value[:idx]
	}
	return value
}

// registeredDomain returns the last two labels of a hostname.
func registeredDomain(hostname string) string {
	hostname = strings.Trim(hostname, ".")
	if hostname == "" || net.ParseIP(hostname) != nil {
		return ""
	}
	labels := strings.Split(hostname, ".")
	if len(labels) < 2 {
		return hostname
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

func stripNonHex(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// stringSimilarity is 1 - levenshtein(a,b)/max(len(a),len(b)).
func stringSimilarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(ra, rb))/float64(longest)
}

// levenshtein computes edit distance with the two-row DP.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = minInt(prev[j]+1, minInt(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
