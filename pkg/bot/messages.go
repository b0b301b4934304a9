package bot

import (
	"fmt"
	"time"

	"github.com/sketchmaster/sketchbot/pkg/users"
)

// User-facing texts. Markdown ones are sent with ParseMode Markdown.

func greetingText(firstName string) string {
	return fmt.Sprintf("👋 Hello %s! I'm the Sketch Master Bot!\n\n"+
		"📸 Send me any photo and I'll convert it to a beautiful pencil sketch!\n\n"+
		"Commands:\n"+
		"/help - Show help\n"+
		"/myid - Get your Telegram ID\n\n"+
		"Made by Ramsfield 🎨", firstName)
}

const helpText = "📖 How to use:\n\n" +
	"1. Send me any photo (NOT as document)\n" +
	"2. Wait a few seconds while I process it\n" +
	"3. Receive your sketched image!\n\n" +
	"💡 Tips:\n" +
	"- Send photos as 'Photo', not 'File'\n" +
	"- Clear photos work best\n" +
	"- Processing takes 5-10 seconds\n\n" +
	"That's it! Simple and free! 🎨"

func myIDText(id int64) string {
	return fmt.Sprintf("🆔 Your Telegram ID: `%d`", id)
}

const adminOnlyText = "❌ This command is only for the admin."

func statsText(s users.Stats) string {
	return fmt.Sprintf("📊 **Bot Statistics**\n\n"+
		"👥 Total Users: %d\n"+
		"🔥 Active Users (7d): %d\n"+
		"🖼 Total Images Processed: %d\n"+
		"📈 Avg Images/User: %.1f\n",
		s.TotalUsers, s.ActiveUsers, s.TotalImages, s.AverageImages)
}

const broadcastUsageText = "📢 **Broadcast Usage:**\n\n" +
	"`/broadcast Your message here`\n\n" +
	"This will send the message to all bot users."

func broadcastStartText(total int) string {
	return fmt.Sprintf("📤 Broadcasting to %d users...\n\n⏳ Please wait...", total)
}

func broadcastMessageText(text string) string {
	return "📢 **Message from Admin:**\n\n" + text
}

func broadcastDoneText(r BroadcastResult) string {
	return fmt.Sprintf("✅ Broadcast Complete!\n\n"+
		"✓ Sent: %d\n"+
		"✗ Failed: %d\n"+
		"📊 Total: %d", r.Sent, r.Failed, r.Total)
}

func invalidBroadcastText(reason string) string {
	return "❌ " + reason
}

const processingText = "⏳ Processing your image...\n" +
	"This may take 5-10 seconds. Please wait! 🎨"

const sketchCaption = "✨ Here's your enhanced pencil sketch!\n\n" +
	"🎨 Made by Sketch Master Bot\n" +
	"💡 Send another photo to try again!"

const apologyText = "❌ Sorry, there was an error processing your image.\n" +
	"Please try again with a different photo!"

const oopsText = "❌ Oops! Something went wrong.\n" +
	"Please try sending the image again!\n\n" +
	"💡 Make sure to send as 'Photo', not 'File'"

const tooLargeText = "❌ This photo is too large for me to process.\n" +
	"Please send a smaller image!"

func slowDownText(wait time.Duration) string {
	secs := int(wait.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("🐢 Easy there! I'm still sketching.\nPlease wait %ds before sending another photo.", secs)
}

const documentRejectionText = "❌ **Invalid File Type!**\n\n" +
	"Please send your image as a **Photo**, not as a **Document/File**!\n\n" +
	"📱 How to send as photo:\n" +
	"1. Tap the 📎 attachment icon\n" +
	"2. Select 'Gallery' or 'Camera'\n" +
	"3. Choose your image\n" +
	"4. Make sure it's sent as a photo, not a file!\n\n" +
	"Try again! 📸"

const otherFileRejectionText = "❌ **Invalid File Type!**\n\n" +
	"I can only process **photos/images**.\n\n" +
	"Please send:\n" +
	"✅ Photos (JPG, PNG)\n" +
	"❌ NOT videos, documents, or other files\n\n" +
	"Send a photo and try again! 📸"
