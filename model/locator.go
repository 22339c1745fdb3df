package model

import "strings"

// Locator identifies a blob inside a namespace, optionally followed by #fragment naming a sub-object.
type Locator string

func NewLocator(basePath, fragment string) Locator {
	if fragment == "" {
		return Locator(basePath)
	}

	return Locator(basePath + "#" + fragment)
}

// BaseLocator is the part before the first '#', the path the blob is stored under.
func (l Locator) BaseLocator() string {
	if idx := strings.IndexByte(string(l), '#'); idx >= 0 {
		return string(l[:idx])
	}

	return string(l)
}

func (l Locator) Fragment() string {
	if idx := strings.IndexByte(string(l), '#'); idx >= 0 {
		return string(l[idx+1:])
	}

	return ""
}

func (l Locator) WithFragment(fragment string) Locator {
	return NewLocator(l.BaseLocator(), fragment)
}

func (l Locator) String() string {
	return string(l)
}
