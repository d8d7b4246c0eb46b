// Package text resolves player-facing text keys against per-locale catalogs.
package text

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/lawnchairsociety/questengine/internal/quest"
)

// catalogFile is the on-disk layout of one locale catalog. Messages may be
// nested; nested keys are joined with dots.
type catalogFile struct {
	Locale   string         `yaml:"locale"`
	Messages map[string]any `yaml:"messages"`
}

// Resolver looks up text keys with a locale fallback chain: the requested
// locale, its parents (en-GB -> en), the default locale, then the raw key.
type Resolver struct {
	mu            sync.RWMutex
	defaultLocale language.Tag
	catalogs      map[language.Tag]map[string]string
	tags          []language.Tag
	matcher       language.Matcher
}

// New creates an empty resolver. An unparseable default locale falls back
// to English.
func New(defaultLocale string) *Resolver {
	tag, err := language.Parse(defaultLocale)
	if err != nil {
		tag = language.English
	}
	return &Resolver{
		defaultLocale: tag,
		catalogs:      make(map[language.Tag]map[string]string),
	}
}

// ParseCatalog parses one YAML catalog.
func ParseCatalog(data []byte) (string, map[string]string, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return "", nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if strings.TrimSpace(file.Locale) == "" {
		return "", nil, fmt.Errorf("catalog locale is required")
	}

	messages := make(map[string]string)
	if err := flatten("", file.Messages, messages); err != nil {
		return "", nil, err
	}
	return file.Locale, messages, nil
}

func flatten(prefix string, in map[string]any, out map[string]string) error {
	for key, value := range in {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		switch v := value.(type) {
		case map[string]any:
			if err := flatten(full, v, out); err != nil {
				return err
			}
		case map[any]any:
			// Unquoted numeric keys such as dialog line indexes.
			nested := make(map[string]any, len(v))
			for k, val := range v {
				nested[fmt.Sprint(k)] = val
			}
			if err := flatten(full, nested, out); err != nil {
				return err
			}
		case string:
			out[full] = strings.TrimSpace(v)
		case nil:
			return fmt.Errorf("catalog key %q has no text", full)
		default:
			out[full] = fmt.Sprint(v)
		}
	}
	return nil
}

// LoadDirectory loads every *.yaml catalog in dir.
func LoadDirectory(dir, defaultLocale string) (*Resolver, error) {
	r := New(defaultLocale)

	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list catalogs: %w", err)
	}
	sort.Strings(paths)

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		locale, messages, err := ParseCatalog(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := r.AddCatalog(locale, messages); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return r, nil
}

// AddCatalog merges messages into a locale's catalog. Later keys win.
func (r *Resolver) AddCatalog(locale string, messages map[string]string) error {
	tag, err := language.Parse(locale)
	if err != nil {
		return fmt.Errorf("invalid locale %q: %w", locale, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	catalog, ok := r.catalogs[tag]
	if !ok {
		catalog = make(map[string]string, len(messages))
		r.catalogs[tag] = catalog
		r.tags = append(r.tags, tag)
		sort.Slice(r.tags, func(i, j int) bool { return r.tags[i].String() < r.tags[j].String() })
		r.matcher = language.NewMatcher(r.tags)
	}
	for key, value := range messages {
		catalog[key] = value
	}
	return nil
}

// Locales returns the loaded locales in sorted order.
func (r *Resolver) Locales() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	locales := make([]string, len(r.tags))
	for i, tag := range r.tags {
		locales[i] = tag.String()
	}
	return locales
}

// DefaultLocale returns the fallback locale.
func (r *Resolver) DefaultLocale() string {
	return r.defaultLocale.String()
}

// Negotiate picks the best loaded locale for an Accept-Language value.
func (r *Resolver) Negotiate(accept string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.matcher == nil {
		return r.defaultLocale.String()
	}
	wanted, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(wanted) == 0 {
		return r.defaultLocale.String()
	}
	_, index, confidence := r.matcher.Match(wanted...)
	if confidence == language.No {
		return r.defaultLocale.String()
	}
	return r.tags[index].String()
}

// Lookup returns the template for key without fallback to the raw key.
func (r *Resolver) Lookup(key, locale string) (string, bool) {
	if r == nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, tag := range r.chain(locale) {
		if msg, ok := r.catalogs[tag][key]; ok {
			return msg, true
		}
	}
	return "", false
}

// Has reports whether a locale's own catalog defines key.
func (r *Resolver) Has(key, locale string) bool {
	tag, err := language.Parse(locale)
	if err != nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.catalogs[tag][key]
	return ok
}

// Describe resolves key for a locale and fills {0}, {1}, ... with args.
// A key missing from every catalog resolves to itself.
func (r *Resolver) Describe(key, locale string, args ...any) string {
	msg, ok := r.Lookup(key, locale)
	if !ok {
		msg = key
	}
	return substitute(msg, args)
}

// chain lists the tags tried for a locale, most specific first.
func (r *Resolver) chain(locale string) []language.Tag {
	var tags []language.Tag
	if tag, err := language.Parse(locale); err == nil {
		for t := tag; t != language.Und; t = t.Parent() {
			tags = append(tags, t)
		}
	}
	return append(tags, r.defaultLocale)
}

func substitute(msg string, args []any) string {
	for i, arg := range args {
		msg = strings.ReplaceAll(msg, "{"+strconv.Itoa(i)+"}", fmt.Sprint(arg))
	}
	return msg
}

// QuestName returns the localized name of a quest.
func (r *Resolver) QuestName(def *quest.Definition, locale string) string {
	return r.Describe(def.NameKey(), locale)
}

// QuestDescription returns the localized description of a quest.
func (r *Resolver) QuestDescription(def *quest.Definition, locale string) string {
	return r.Describe(def.DescriptionKey(), locale)
}

// ObjectiveText returns the localized objective line. Counted objectives get
// the current and required amounts as {0} and {1}.
func (r *Resolver) ObjectiveText(def *quest.Definition, op *quest.ObjectiveProgress, locale string) string {
	return r.Describe(def.ObjectiveKey(op.ObjectiveID), locale, op.Current, op.Required)
}

// DialogLines returns a quest's linear dialog in order.
func (r *Resolver) DialogLines(def *quest.Definition, locale string) []string {
	lines := make([]string, def.DialogLines)
	for i := range lines {
		lines[i] = r.Describe(def.DialogKey(i), locale)
	}
	return lines
}

// MissingKeys returns the text keys a definition needs that the locale's own
// catalog does not define.
func (r *Resolver) MissingKeys(def *quest.Definition, locale string) []string {
	keys := []string{def.NameKey(), def.DescriptionKey()}
	for _, obj := range def.Objectives {
		keys = append(keys, def.ObjectiveKey(obj.ObjectiveID()))
	}
	for i := 0; i < def.DialogLines; i++ {
		keys = append(keys, def.DialogKey(i))
	}

	var missing []string
	for _, key := range keys {
		if !r.Has(key, locale) {
			missing = append(missing, key)
		}
	}
	return missing
}
