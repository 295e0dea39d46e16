// Package renderer defines the capability interface of the external training and rendering engine. The harness
// never touches engine state directly; every read and mutation goes through a Renderer method so the calls can
// be recorded and checked in tests (see renderertest).
package renderer
