// Package pipeline describes the vertical-reels conversion recipe as an
// ordered list of declarative stages.
//
// Each Stage names its inputs, the filter instructions handed to the encoder
// and the artifact it writes. Stages run strictly in order because later
// stages consume the outputs of earlier ones. Every stage carries a fixed
// progress checkpoint; the last checkpoint is always 100.
package pipeline
