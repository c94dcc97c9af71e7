// Package config holds the harvest settings assembled from command-line
// flags, the .webimg.yaml file and WEBIMG_* environment variables.
package config
