// Package types defines the shared data types of the storyboard generation
// pipeline: the structured error taxonomy and the image reference union
// exchanged between the UI layer and the generation client.
package types
