// Package templates implements versioned, localized notification content
// blueprints and the mini-language used to render them.
//
// Templates are append-only: creating a template for a (category, locale)
// pair archives the previous active version and increments the version
// number; archived versions are never deleted. At most one active template
// per pair carries the default flag.
//
// Lookup order for a (category, locale) pair is the active default, then
// the highest active version, then the same lookup under the "en" base
// locale.
//
// The rendering mini-language supports {{key}} substitution (unresolved
// keys stay literal), dotted keys resolved against nested maps, and
// {{#if var}}…{{/if}} / {{#unless var}}…{{/unless}} blocks evaluated
// against the data map. Blocks nest; parsing builds an AST so block
// boundaries are unambiguous.
package templates
