// Package upload turns user-selected files into gallery records.
//
// A Pipeline rejects anything that is not an image, compresses the rest in
// parallel, submits them to the backend one at a time and publishes each
// stored record on its Events channel. The gallery controller listens on
// that channel and folds new records into the view and cache, so the two
// packages share no state beyond the channel.
package upload
