package analyzer

import "github.com/bdougie/framesearch/internal/config"

var emberLabels = []string{
	"Ember character", "Ember holding phone", "Ember using phone",
	"Ember close-up", "Ember from distance", "Ember smiling",
	"Ember talking", "Ember walking", "Ember sitting", "Ember standing",
}

var basicSceneLabels = []string{
	"indoor scene", "outdoor scene", "daytime scene", "nighttime scene",
}

var phoneActionLabels = []string{
	"person holding smartphone", "person using mobile phone",
	"person looking at phone screen", "person texting on phone",
	"person taking selfie", "person recording video",
}

// COCO categories
var objectLabels = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench",

	"chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop",
	"mouse", "remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",

	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
}

var sceneLabels = []string{
	"indoor scene", "outdoor scene", "urban environment", "natural environment",
	"daytime scene", "nighttime scene", "sunset scene", "sunrise scene",
	"crowded scene", "empty scene", "busy environment", "quiet environment",
}

var actionLabels = []string{
	"person standing", "person sitting", "person walking", "person running",
	"person jumping", "person dancing", "person exercising", "person working",
	"person using phone", "person using laptop", "person reading", "person writing",
	"person talking", "person smiling", "person laughing", "person looking",
}

var phoneLabels = []string{
	"person holding smartphone", "person using mobile phone", "person looking at phone screen",
	"person texting on phone", "person taking selfie", "person recording video",
	"person scrolling phone", "person holding phone up", "person holding phone down",
	"person using phone while walking", "person using phone while sitting",
}

var shotLabels = []string{
	"close-up shot", "wide shot", "medium shot", "group shot", "solo shot",
	"candid moment", "posed shot", "action shot", "portrait shot", "landscape shot",
	"street scene", "park scene", "office scene", "home scene", "restaurant scene",
}

// Labels returns the candidate vocabulary for the given variant. Unknown
// variants get the general vocabulary.
func Labels(vocabulary string) []string {
	var groups [][]string
	if vocabulary == config.VocabularyNarrow {
		groups = [][]string{emberLabels, basicSceneLabels, phoneActionLabels}
	} else {
		groups = [][]string{emberLabels, objectLabels, sceneLabels, actionLabels, phoneLabels, shotLabels}
	}

	var labels []string
	for _, g := range groups {
		labels = append(labels, g...)
	}
	return labels
}
