package urlparams

import (
	"net/url"
	"sort"
	"strings"
)

// Decode reads the filter fields of a query string. Repeated keys and
// comma or space separated values both produce multi-valued fields. Values
// are lower-cased except for author, which is kept verbatim. Reserved
// fields that are absent or empty get their defaults.
func Decode(query string) (FilterParams, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return nil, err
	}
	return FromValues(values, false), nil
}

// DecodeLegacy is Decode, additionally accepting keys carrying the
// deprecated "filter-" prefix.
func DecodeLegacy(query string) (FilterParams, error) {
	values, err := url.ParseQuery(strings.TrimPrefix(query, "?"))
	if err != nil {
		return nil, err
	}
	return FromValues(values, true), nil
}

// FromValues decodes already parsed query values
func FromValues(values url.Values, legacy bool) FilterParams {
	params := Defaults()
	grouped := make(FilterParams)

	for _, key := range sortedKeys(values) {
		field := key
		if legacy {
			field = strings.TrimPrefix(key, DeprecatedPrefix)
		}
		if !IsFilterField(field) {
			continue
		}
		for _, raw := range values[key] {
			grouped[field] = append(grouped[field], splitValue(field, raw)...)
		}
	}

	// a key with only empty values, such as "tier=", reads as absent
	for field, vals := range grouped {
		if len(vals) == 0 {
			continue
		}
		params[field] = vals
	}
	return params
}

func splitValue(field, raw string) []string {
	if field == FieldAuthor {
		return []string{raw}
	}
	return strings.FieldsFunc(strings.ToLower(raw), func(r rune) bool {
		return r == ',' || r == ' '
	})
}

// Split separates filter keys (including legacy prefixed ones) from the
// rest of the query.
func Split(values url.Values) (filters url.Values, rest url.Values) {
	filters = make(url.Values)
	rest = make(url.Values)
	for key, vals := range values {
		if IsFilterField(strings.TrimPrefix(key, DeprecatedPrefix)) {
			filters[key] = append([]string(nil), vals...)
		} else {
			rest[key] = append([]string(nil), vals...)
		}
	}
	return filters, rest
}

// Encode writes filters and the non-filter values back into a query
// string. Empty fields and fields equal to their default are omitted, and
// repo falls back to defaultRepo. Multi-valued fields are comma joined
// except author, which repeats its key.
func Encode(filters FilterParams, rest url.Values, defaultRepo string) string {
	return ToValues(filters, rest, defaultRepo).Encode()
}

// ToValues is Encode without the final serialization
func ToValues(filters FilterParams, rest url.Values, defaultRepo string) url.Values {
	out := make(url.Values)
	for key, vals := range rest {
		if IsFilterField(strings.TrimPrefix(key, DeprecatedPrefix)) {
			continue
		}
		kept := make([]string, 0, len(vals))
		for _, v := range vals {
			if v != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			out[key] = kept
		}
	}
	if out.Get(ParamRepo) == "" && defaultRepo != "" {
		out.Set(ParamRepo, defaultRepo)
	}

	for field, vals := range filters {
		if len(vals) == 0 || MatchesDefault(field, vals) {
			continue
		}
		if field == FieldAuthor {
			out[field] = append([]string(nil), vals...)
			continue
		}
		out.Set(field, strings.Join(vals, ","))
	}
	return out
}

func sortedKeys(values url.Values) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
