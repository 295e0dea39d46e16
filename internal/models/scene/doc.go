// Package scene contains the registry of named scenes. A scene name given on the command line is resolved
// through it to a mode, a training data path and a default network config.
package scene
