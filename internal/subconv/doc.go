// Package subconv runs subconverter to turn subscriptions that are not clash
// configs into ones that are.
package subconv
