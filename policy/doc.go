// Package policy provides optional declarative rules that control how a
// dispatch run reacts to task failures – collect every outcome, or halt
// dispatch once failures appear.
package policy
